package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/reblisbiver/emotional-crawler/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage classifier API credentials",
	Long: `Manage the classification backend's API credentials securely.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (EMOCRAWL_API_KEY, read-only)

Never share your credentials or config files!`,
}

// authSetCmd represents the auth set command
var authSetCmd = &cobra.Command{
	Use:   "set [provider]",
	Short: "Store an API key securely",
	Long: `Store the classification backend's API key in the system keychain or
encrypted file. You will be prompted for the key; it is hidden as you
type. The provider defaults to "deepseek".`,
	Example: `  # Store the default provider's key
  emocrawl auth set

  # Store a key for a different backend
  emocrawl auth set openrouter`,
	Args: cobra.MaximumNArgs(1),
	Run:  runAuthSet,
}

// authShowCmd represents the auth show command
var authShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored credentials",
	Long:  `List stored credentials with the API keys masked.`,
	Run:   runAuthShow,
}

// authRemoveCmd represents the auth remove command
var authRemoveCmd = &cobra.Command{
	Use:   "remove [provider]",
	Short: "Remove a stored credential",
	Args:  cobra.MaximumNArgs(1),
	Run:   runAuthRemove,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authShowCmd)
	authCmd.AddCommand(authRemoveCmd)
}

func runAuthSet(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fatal(err)
	}

	provider := credentialProvider
	if len(args) > 0 {
		provider = args[0]
	}

	if existing, _ := manager.Retrieve(provider); existing != nil {
		reader := bufio.NewReader(os.Stdin)
		fmt.Printf("A key for '%s' already exists. Replace it? (y/N): ", provider)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	fmt.Printf("API key for %s: ", provider)
	apiKey, err := readPassword()
	if err != nil {
		fatal(err)
	}
	if apiKey == "" {
		fatal(fmt.Errorf("API key cannot be empty"))
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Endpoint URL (press Enter for default): ")
	endpoint, _ := reader.ReadString('\n')
	endpoint = strings.TrimSpace(endpoint)

	cred := &auth.Credential{
		Provider: provider,
		APIKey:   apiKey,
		Endpoint: endpoint,
	}
	if err := manager.Store(cred); err != nil {
		fatal(err)
	}

	fmt.Printf("Credential stored for provider '%s'\n", provider)
}

func runAuthShow(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fatal(err)
	}

	creds, err := manager.List()
	if err != nil {
		fatal(err)
	}
	if len(creds) == 0 {
		fmt.Println("No stored credentials. Use 'emocrawl auth set' to add one.")
		return
	}

	for _, cred := range creds {
		sanitized := auth.SanitizeCredential(cred)
		fmt.Printf("Provider: %s\n", sanitized.Provider)
		fmt.Printf("  API Key:  %s\n", sanitized.APIKey)
		if sanitized.Endpoint != "" {
			fmt.Printf("  Endpoint: %s\n", sanitized.Endpoint)
		}
		fmt.Printf("  Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
	}
}

func runAuthRemove(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fatal(err)
	}

	provider := credentialProvider
	if len(args) > 0 {
		provider = args[0]
	}

	if err := manager.Delete(provider); err != nil {
		fatal(err)
	}
	fmt.Printf("Credential removed for provider '%s'\n", provider)
}

// readPassword reads a secret from stdin without echoing
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
