package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shopmgr/internal/issuer"
	"shopmgr/internal/license"
)

// Environment fallbacks keep key material out of shell history.
const (
	envSecret     = "LICENSEGEN_SECRET"
	envPrivateKey = "LICENSEGEN_PRIVATE_KEY"
	envPublicKey  = "LICENSEGEN_PUBLIC_KEY"
)

func flagOrEnv(value, env string) string {
	if value != "" {
		return value
	}
	return os.Getenv(env)
}

func runIssueCommand() *cobra.Command {
	var (
		deviceID   string
		secret     string
		privateKey string
		expires    string
		days       int
		ed25519    bool
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a license token for a device",
		Example: `  licensegen issue --device 4c4c4544-0042 --days 365
  licensegen issue --device 4c4c4544-0042 --ed25519 --private-key $KEY`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			deviceID = strings.TrimSpace(deviceID)
			if deviceID == "" {
				return errors.New("--device is required")
			}
			if expires != "" && days > 0 {
				return errors.New("set at most one of --expires or --days")
			}

			payload := issuer.Full(deviceID)
			switch {
			case days > 0:
				payload = issuer.TimeLimited(deviceID, time.Now().Add(time.Duration(days)*24*time.Hour))
			case expires != "":
				at, err := parseExpiry(expires)
				if err != nil {
					return err
				}
				payload = issuer.TimeLimited(deviceID, at)
			}

			iss, err := newIssuer(flagOrEnv(secret, envSecret), flagOrEnv(privateKey, envPrivateKey), ed25519)
			if err != nil {
				return err
			}
			if ed25519 {
				payload.Version = license.VersionEd25519
			}

			token, err := iss.Issue(payload)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID shown on the customer's activation page")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret for version 1 tokens (or $"+envSecret+")")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "Hex Ed25519 private key for version 2 tokens (or $"+envPrivateKey+")")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry as YYYY-MM-DD or RFC 3339; omit for a full license")
	cmd.Flags().IntVar(&days, "days", 0, "Expire this many days from now")
	cmd.Flags().BoolVar(&ed25519, "ed25519", false, "Sign with Ed25519 (version 2) instead of HMAC")
	return cmd
}

func newIssuer(secret, privateKeyHex string, ed bool) (*issuer.Issuer, error) {
	if !ed {
		if secret == "" {
			return nil, errors.New("an HMAC secret is required (--secret or $" + envSecret + ")")
		}
		return issuer.New(secret, nil), nil
	}
	if privateKeyHex == "" {
		return nil, errors.New("a private key is required for --ed25519 (--private-key or $" + envPrivateKey + ")")
	}
	key, err := issuer.ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return issuer.New(secret, key), nil
}

// parseExpiry accepts a date, taken as the end of that day in UTC, or a full
// RFC 3339 timestamp.
func parseExpiry(s string) (time.Time, error) {
	if day, err := time.Parse(time.DateOnly, s); err == nil {
		return day.Add(24*time.Hour - time.Millisecond), nil
	}
	at, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --expires %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return at, nil
}

func runKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair for version 2 tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			pub, priv, err := issuer.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "public:  %s\n", pub)
			fmt.Fprintf(out, "private: %s\n", priv)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Embed the public key with:")
			fmt.Fprintf(out, "  -ldflags \"-X shopmgr/internal/license.PublicKeyHex=%s\"\n", pub)
			return nil
		},
	}
}

type inspection struct {
	DeviceID  string     `json:"device_id"`
	Type      string     `json:"type"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Version   int        `json:"version"`
	Signature string     `json:"signature"`
}

func runInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect TOKEN",
		Short: "Decode a token's payload without checking its signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			encoded, signature, found := strings.Cut(strings.TrimSpace(args[0]), license.Separator)
			if !found {
				return errors.New(license.ReasonMalformedToken.Message())
			}
			p, err := license.Decode(encoded)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(inspection{
				DeviceID:  p.DeviceID,
				Type:      string(p.Type),
				ExpiresAt: p.ExpiresAt,
				Version:   p.SchemeVersion(),
				Signature: signature,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		},
	}
}

func runVerifyCommand() *cobra.Command {
	var (
		deviceID  string
		secret    string
		publicKey string
	)

	cmd := &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Check a token the way the application does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if deviceID == "" {
				return errors.New("--device is required")
			}

			opts := []license.Option{}
			if s := flagOrEnv(secret, envSecret); s != "" {
				opts = append(opts, license.WithSecret(s))
			}
			if k := flagOrEnv(publicKey, envPublicKey); k != "" {
				key, err := license.ParsePublicKey(k)
				if err != nil {
					return err
				}
				opts = append(opts, license.WithPublicKey(key))
			}

			p, err := license.NewValidator(opts...).Validate(strings.TrimSpace(args[0]), deviceID)
			if err != nil {
				reason := license.ReasonOf(err)
				return fmt.Errorf("rejected (%s): %s", reason, reason.Message())
			}

			fmt.Fprintf(out, "valid %s license for %s", p.Type, p.DeviceID)
			if p.ExpiresAt != nil {
				fmt.Fprintf(out, ", expires %s", p.ExpiresAt.UTC().Format(time.RFC3339))
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device ID to check against")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret (or $"+envSecret+"; default: build-embedded)")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "Hex Ed25519 public key (or $"+envPublicKey+"; default: build-embedded)")
	return cmd
}
