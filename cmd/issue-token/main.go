// issue-token prints a bearer token for the risk API (service accounts, local testing).
//
// Usage:
//
//	API_SECRET=... go run ./cmd/issue-token -user-id 1 -username ops -role admin
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/riskwatch_backend/utils"
)

func main() {
	userID := flag.Int("user-id", 0, "User id carried in the token")
	username := flag.String("username", "", "Username carried in the token")
	role := flag.String("role", utils.RoleMember, "admin, project_manager or member")
	flag.Parse()

	if *userID <= 0 || *username == "" {
		fmt.Fprintln(os.Stderr, "-user-id and -username are required")
		os.Exit(2)
	}
	switch *role {
	case utils.RoleAdmin, utils.RoleProjectManager, utils.RoleMember:
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}
	if os.Getenv("API_SECRET") == "" {
		fmt.Fprintln(os.Stderr, "warning: API_SECRET not set; token is signed with the development secret")
	}

	token, err := utils.JwtGenerate(*userID, *username, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
