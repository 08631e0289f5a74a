package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/auth"
)

// Generates the bcrypt hash the API expects in AUTH_ADMIN_PASSWORD_HASH.
func main() {
	fmt.Println("========================================")
	fmt.Println(" Admin Password Hash Tool")
	fmt.Println("========================================")
	fmt.Println()

	var password string
	if len(os.Args) > 1 {
		password = os.Args[1]
	} else {
		fmt.Print("Password: ")
		reader := bufio.NewReader(os.Stdin)
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Printf("❌ Failed to read password: %v\n", err)
			os.Exit(1)
		}
		password = strings.TrimRight(input, "\r\n")
	}

	if err := auth.ValidatePasswordStrength(password); err != nil {
		fmt.Printf("❌ Weak password: %v\n", err)
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Printf("❌ Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✅ Hash generated. Set it in the environment:")
	fmt.Println()
	fmt.Printf("  AUTH_ADMIN_PASSWORD_HASH='%s'\n", hash)
	fmt.Println()
	fmt.Println("Quote the value: bcrypt hashes contain $ characters.")
}
