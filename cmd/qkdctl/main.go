// Package main はKMEと暗号化メッセージを操作するCLIツールのエントリポイント。
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"qkd-mail-service/config"
	"qkd-mail-service/internal/domain"
	"qkd-mail-service/internal/encryption"
	"qkd-mail-service/internal/infra"
	"qkd-mail-service/internal/kmeclient"
	"qkd-mail-service/internal/transport"
	"qkd-mail-service/internal/usecase"
)

const version = "1.0.0"

var (
	kmeURL  string
	output  string
	timeout time.Duration
)

var (
	cfg    *config.Config
	client *kmeclient.Client
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "qkdctl",
		Short:         "QKD KME simulator and quantum message CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if kmeURL == "" {
				kmeURL = cfg.KMEURL
			}
			if timeout <= 0 {
				timeout = cfg.KMETimeout
			}
			infra.SetupLoggerTo(os.Stderr, cfg)
			client = kmeclient.New(kmeURL, timeout)
			return nil
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&kmeURL, "kme-url", "", "KME endpoint URL (or set QKD_KME_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Request timeout (or set QKD_KME_TIMEOUT)")

	// サブコマンド登録
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(encKeysCmd())
	rootCmd.AddCommand(decKeysCmd())
	rootCmd.AddCommand(sealCmd())
	rootCmd.AddCommand(openCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qkdctl version %s\n", version)
		},
	}
}

// statusCmd はKMEの状態を表示する。
func statusCmd() *cobra.Command {
	var slaveSAEID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show KME status for a slave SAE",
		RunE: func(cmd *cobra.Command, args []string) error {
			if slaveSAEID == "" {
				slaveSAEID = cfg.SlaveSAEID
			}
			status, err := client.Status(cmd.Context(), slaveSAEID)
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(status)
			}
			fmt.Printf("Source KME:      %s\n", status.SourceKMEID)
			fmt.Printf("Target KME:      %s\n", status.TargetKMEID)
			fmt.Printf("Master SAE:      %s\n", status.MasterSAEID)
			fmt.Printf("Slave SAE:       %s\n", status.SlaveSAEID)
			fmt.Printf("Key size:        %d bits\n", status.KeySize)
			fmt.Printf("Key size range:  %d-%d bits\n", status.MinKeySize, status.MaxKeySize)
			fmt.Printf("Keys/request:    %d\n", status.MaxKeyPerRequest)
			return nil
		},
	}
	cmd.Flags().StringVar(&slaveSAEID, "sae", "", "Slave SAE ID (default QKD_SLAVE_SAE_ID)")
	return cmd
}

// encKeysCmd は暗号化用の鍵を要求する。
func encKeysCmd() *cobra.Command {
	var slaveSAEID string
	var number, size int
	cmd := &cobra.Command{
		Use:   "enc-keys",
		Short: "Request new encryption keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if slaveSAEID == "" {
				slaveSAEID = cfg.SlaveSAEID
			}
			if size == 0 {
				size = cfg.DefaultKeySize
			}
			keys, err := client.RequestEncryptionKeys(cmd.Context(), slaveSAEID, number, size)
			if err != nil {
				return err
			}
			return printKeys(keys)
		},
	}
	cmd.Flags().StringVar(&slaveSAEID, "sae", "", "Slave SAE ID (default QKD_SLAVE_SAE_ID)")
	cmd.Flags().IntVar(&number, "number", 1, "Number of keys")
	cmd.Flags().IntVar(&size, "size", 0, "Key size in bits (default DEFAULT_KEY_SIZE)")
	return cmd
}

// decKeysCmd は鍵IDを指定して復号用の鍵を取得する。
func decKeysCmd() *cobra.Command {
	var masterSAEID string
	cmd := &cobra.Command{
		Use:   "dec-keys KEY_ID...",
		Short: "Retrieve decryption keys by ID",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if masterSAEID == "" {
				masterSAEID = cfg.MasterSAEID
			}
			keys, err := client.RequestDecryptionKeys(cmd.Context(), masterSAEID, args)
			if err != nil {
				return err
			}
			return printKeys(keys)
		},
	}
	cmd.Flags().StringVar(&masterSAEID, "sae", "", "Master SAE ID (default QKD_MASTER_SAE_ID)")
	return cmd
}

// sealCmd はメッセージを暗号化してエンベロープを出力する。
func sealCmd() *cobra.Command {
	var level, message string
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a message (read from --message or stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			plaintext, err := readInput(cmd, message)
			if err != nil {
				return err
			}

			sealed, err := newMessenger(nil).Seal(cmd.Context(), plaintext, domain.SecurityLevel(level))
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(map[string]any{
					"key_id":         sealed.KeyID,
					"security_level": sealed.SecurityLevel,
					"body":           sealed.Body,
					"headers":        sealed.Headers,
				})
			}
			for name, value := range sealed.Headers {
				fmt.Fprintf(os.Stderr, "%s: %s\n", name, value)
			}
			fmt.Print(sealed.Body)
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Security level: L1, L2, L3, L4 (default DEFAULT_SECURITY_LEVEL)")
	cmd.Flags().StringVar(&message, "message", "", "Plaintext message")
	return cmd
}

// openCmd はエンベロープを復号して平文を出力する。
func openCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Decrypt an envelope (read from --file or stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			var err error
			if file != "" {
				body, err = os.ReadFile(file)
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("reading envelope: %w", err)
			}

			mail := &domain.ReceivedMail{
				Body:  string(body),
				Flags: domain.MessageFlags{IsEncrypted: true},
			}
			plaintext, err := newMessenger(nil).Open(cmd.Context(), mail)
			if err != nil {
				return err
			}
			fmt.Println(plaintext)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Envelope file (default stdin)")
	return cmd
}

// demoCmd はメールボックス経由で送信から受信までを一通り実行する。
func demoCmd() *cobra.Command {
	var level, message string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Send a message through an in-memory mailbox and read it back",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mailbox := transport.NewMailbox()
			msg := newMessenger(mailbox)

			sealed, err := msg.Send(ctx, "alice@example.com", "bob@example.com", "QKD demo", message, domain.SecurityLevel(level))
			if err != nil {
				return err
			}
			ids := mailbox.List(ctx, transport.FolderInbox)
			if len(ids) == 0 {
				return fmt.Errorf("message was not delivered")
			}
			plaintext, err := msg.Fetch(ctx, transport.FolderInbox, ids[0])
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(map[string]any{
					"key_id":         sealed.KeyID,
					"security_level": sealed.SecurityLevel,
					"body":           sealed.Body,
					"decrypted":      plaintext,
				})
			}
			fmt.Printf("Key ID:          %s\n", sealed.KeyID)
			fmt.Printf("Security level:  %s\n", sealed.SecurityLevel)
			fmt.Printf("Transmitted body:\n%s\n", sealed.Body)
			fmt.Printf("Decrypted:       %s\n", plaintext)
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Security level: L1, L2, L3, L4 (default DEFAULT_SECURITY_LEVEL)")
	cmd.Flags().StringVar(&message, "message", "Hello, Quantum!", "Plaintext message")
	return cmd
}

func newMessenger(tr usecase.Transport) *usecase.Messenger {
	return usecase.NewMessenger(client, encryption.NewEngine(), tr, usecase.MessengerConfig{
		MasterSAEID:  cfg.MasterSAEID,
		SlaveSAEID:   cfg.SlaveSAEID,
		KeySize:      cfg.DefaultKeySize,
		DefaultLevel: cfg.SecurityLevel(),
	})
}

func readInput(cmd *cobra.Command, message string) (string, error) {
	if message != "" {
		return message, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

func printKeys(keys []*domain.Key) error {
	if output == "json" {
		type keyOut struct {
			KeyID string `json:"key_ID"`
			Bits  int    `json:"bits"`
		}
		out := make([]keyOut, len(keys))
		for i, k := range keys {
			out[i] = keyOut{KeyID: k.ID, Bits: k.Bits()}
		}
		return printJSON(out)
	}
	fmt.Printf("%-38s %s\n", "KEY_ID", "BITS")
	for _, k := range keys {
		fmt.Printf("%-38s %d\n", k.ID, k.Bits())
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
