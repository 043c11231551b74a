//	@title			EchoGate API
//	@version		1.0
//	@description	OAuth 2.0 identity provider and metered LLM completion proxy

//	@contact.name	API Support
//	@contact.url	https://github.com/echo-platform/echogate

//	@license.name	MIT
//	@license.url	https://github.com/echo-platform/echogate/blob/main/LICENSE

//	@host		localhost:8080
//	@BasePath	/

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and JWT token.

//	@securityDefinitions.apikey	SessionAuth
//	@in							cookie
//	@name						echogate_session
//	@description				Session cookie for authenticated users

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/echo-platform/echogate/internal/bootstrap"
	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		version.PrintVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "server":
		cfg := config.Load()
		if err := bootstrap.Run(cfg); err != nil {
			log.Fatalf("Failed to start: %v", err)
		}
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Usage: %s [OPTIONS] COMMAND\n\n", os.Args[0])
	fmt.Println("OAuth 2.0 identity provider and metered LLM completion proxy")
	fmt.Println("\nCommands:")
	fmt.Println("  server    Start the EchoGate server")
	fmt.Println("\nOptions:")
	fmt.Println("  -v, --version    Show version information")
	fmt.Println("  -h, --help       Show this help message")
}
