package frontend

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"

	"github.com/ebalkanci/habita/client"
	"github.com/ebalkanci/habita/frontend/cmd"
)

// RunFrontend starts the interactive shell.
func RunFrontend() {
	// Load the .env file
	err := godotenv.Load("frontend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables
	signingKey := os.Getenv("JWT_SIGNING_KEY")
	authToken := os.Getenv("AUTH_TOKEN")
	authTokenRefresh := os.Getenv("AUTH_TOKEN_REFRESH")
	serverURL := os.Getenv("SERVER_URL")

	// Drop any session left over from a previous run
	keyring.Delete(client.KeyringService, authToken)
	keyring.Delete(client.KeyringService, authTokenRefresh)

	client.InitClient(serverURL, signingKey, authToken, authTokenRefresh)
	cmd.InitCmd()
	cmd.Execute()
}
