package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"taskdesk/internal/auth"
	"taskdesk/internal/models"
)

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and store a session token",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	RunE:  runWhoami,
}

var registerName string

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegister,
}

func init() {
	registerCmd.Flags().StringVarP(&registerName, "name", "n", "", "Display name")
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// tokenLifetime mirrors the server-side token expiry so the session
// file knows when to demand a fresh login.
const tokenLifetime = 24 * time.Hour

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

func saveSession(resp *authResponse) error {
	s := getSession()
	if s == nil {
		return fmt.Errorf("no writable session store")
	}
	return s.Save(&auth.Credentials{
		Token:     resp.Token,
		ExpiresAt: time.Now().Add(tokenLifetime),
		User:      resp.User,
	})
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	raw, err := apiPost("/api/auth/login", map[string]string{
		"email":    args[0],
		"password": password,
	})
	if err != nil {
		return err
	}
	var resp authResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}
	if err := saveSession(&resp); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s (%s)\n", resp.User.Name, resp.User.Role)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	s := getSession()
	if s == nil {
		return nil
	}
	if err := s.Clear(); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	s := getSession()
	if s == nil || !s.IsAuthenticated() {
		return auth.ErrNotAuthenticated
	}
	u := s.User()
	fmt.Printf("%s <%s> role=%s\n", u.Name, u.Email, u.Role)
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	name := registerName
	if name == "" {
		fmt.Print("Name: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read name: %w", err)
		}
		name = strings.TrimSpace(line)
	}

	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	raw, err := apiPost("/api/auth/register", map[string]string{
		"email":    args[0],
		"name":     name,
		"password": password,
	})
	if err != nil {
		return err
	}
	var resp authResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}
	if err := saveSession(&resp); err != nil {
		return err
	}
	fmt.Printf("Registered %s (%s)\n", resp.User.Email, resp.User.Role)
	return nil
}
