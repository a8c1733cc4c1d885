// roundtally - CS2 round stats ingestion and leaderboards
package main

import (
	"fmt"
	"os"
)

var version = "dev"

const defaultConfigPath = "/etc/roundtally/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "ingest":
		cmdIngest(os.Args[2:])
	case "reset":
		cmdReset(os.Args[2:])
	case "upload":
		cmdUpload(os.Args[2:])
	case "leaderboard":
		cmdLeaderboard(os.Args[2:])
	case "global":
		cmdGlobal(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "version":
		fmt.Printf("roundtally %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: roundtally <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the ingestion and leaderboard server")
	fmt.Println("  status [--server N]                 Show ingestion status for each server")
	fmt.Println("  ingest [--server N]                 Run ingestion now (all servers by default)")
	fmt.Println("  reset --server N                    Reset a server's checkpoint to the start of its log")
	fmt.Println("  upload --server N <file>            Upload a log file (.gz and .zst are decompressed)")
	fmt.Println("  leaderboard [--top N] [--server N] [--from DATE] [--to DATE] [--linked] [--naive]")
	fmt.Println("                                      Show top players (default: 20)")
	fmt.Println("  global [--server N]                 Show totals across all matches")
	fmt.Println("  user add <username> <game-id>       Add a platform user linked to a game id")
	fmt.Println("  user link <username> <game-id>      Change the game id a user is linked to")
	fmt.Println("  user remove <username>              Remove a user")
	fmt.Println("  user list                           List all users")
	fmt.Println("  token --subject NAME [--admin]      Issue an API token signed with the configured secret")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/roundtally/config.yml)")
	fmt.Println("  --url <url>        Base URL of the roundtally server (default: derived from config)")
	fmt.Println("  --token <token>    Admin token for ingest, reset and upload (or ROUNDTALLY_TOKEN)")
	fmt.Println("  --json             Print raw JSON (default when stdout is not a terminal)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  roundtally serve --config /etc/roundtally/config.yml")
	fmt.Println("  roundtally upload --server 1 console.log.gz")
	fmt.Println("  roundtally leaderboard --top 50 --from 2026-10-01")
	fmt.Println("  roundtally user add alice STEAM_1:0:12345")
}
