package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/cmd/internal/passphrase"
	"github.com/chainrule-labs/pesto-contracts-sub000/crypto"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/token"
	"github.com/chainrule-labs/pesto-contracts-sub000/services/positiond/audit"
	"github.com/chainrule-labs/pesto-contracts-sub000/services/positiond/middleware"
)

const (
	keygenCommand = "keygen"
	permitCommand = "permit"
	tokenCommand  = "token"
	exportCommand = "export"

	defaultPassEnv   = "PESTO_KEYSTORE_PASS"
	defaultSecretEnv = "POSITIOND_JWT_SECRET"
	defaultKeystore  = "owner.keystore"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(os.Args[2:], os.Stdout)
	case permitCommand:
		err = runPermit(os.Args[2:], os.Stdout)
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case exportCommand:
		err = runExport(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: pestoctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintf(w, "  %-8s create a new owner key in a v3 keystore\n", keygenCommand)
	fmt.Fprintf(w, "  %-8s sign a token permit with a keystore key\n", permitCommand)
	fmt.Fprintf(w, "  %-8s issue a positiond bearer token\n", tokenCommand)
	fmt.Fprintf(w, "  %-8s dump audit records to Parquet\n", exportCommand)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pass, err := passphrase.NewSource(*passEnv, "new keystore passphrase").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass, *force); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintf(out, "address:  %s\nkeystore: %s\n", key.Address().Hex(), *keystorePath)
	return nil
}

// permitOutput matches the permit object accepted by POST /v1/positions/{address}/add.
type permitOutput struct {
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	Spender   string `json:"spender"`
	Value     string `json:"value"`
	Nonce     uint64 `json:"nonce"`
	Deadline  uint64 `json:"deadline"`
	Signature string `json:"signature"`
}

type permitArgs struct {
	token    string
	spender  string
	value    string
	nonce    uint64
	deadline uint64
}

func runPermit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(permitCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Keystore holding the token owner's key")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	var pa permitArgs
	fs.StringVar(&pa.token, "token", "", "Token the approval covers (the position's collateral token)")
	fs.StringVar(&pa.spender, "spender", "", "Approved spender (the position address)")
	fs.StringVar(&pa.value, "value", "", "Approved amount in base units, or \"max\"")
	fs.Uint64Var(&pa.nonce, "nonce", 0, "Owner's current permit nonce (GET /v1/tokens/{token}/nonce/{owner})")
	ttl := fs.Duration("ttl", time.Hour, "Validity window; ignored when -deadline is set")
	fs.Uint64Var(&pa.deadline, "deadline", 0, "Absolute unix deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if pa.deadline == 0 {
		pa.deadline = uint64(time.Now().Add(*ttl).Unix())
	}

	pass, err := passphrase.NewSource(*passEnv, "owner keystore passphrase").Get()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(*keystorePath, pass)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	signed, err := signPermit(key, pa)
	if err != nil {
		return err
	}
	return writeJSON(out, signed)
}

func signPermit(key *crypto.PrivateKey, pa permitArgs) (permitOutput, error) {
	tokenAddr, err := parseAddress("token", pa.token)
	if err != nil {
		return permitOutput{}, err
	}
	spender, err := parseAddress("spender", pa.spender)
	if err != nil {
		return permitOutput{}, err
	}
	value, err := parseValue(pa.value)
	if err != nil {
		return permitOutput{}, err
	}
	p := token.Permit{
		Token:    tokenAddr,
		Owner:    key.Address(),
		Spender:  spender,
		Value:    value,
		Nonce:    pa.nonce,
		Deadline: pa.deadline,
	}
	sig, err := token.SignPermit(p, key.PrivateKey)
	if err != nil {
		return permitOutput{}, err
	}
	return permitOutput{
		Owner:     p.Owner.Hex(),
		Token:     p.Token.Hex(),
		Spender:   p.Spender.Hex(),
		Value:     value.Dec(),
		Nonce:     p.Nonce,
		Deadline:  p.Deadline,
		Signature: hexutil.Encode(sig),
	}, nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the HMAC secret")
	subject := fs.String("subject", "", "Caller address the token authenticates")
	issuer := fs.String("issuer", "", "Issuer claim; must match positiond auth.issuer when set")
	admin := fs.Bool("admin", false, "Grant the admin scope")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return fmt.Errorf("%s must be set", *secretEnv)
	}
	caller, err := parseAddress("subject", *subject)
	if err != nil {
		return err
	}
	var scopes []string
	if *admin {
		scopes = append(scopes, middleware.ScopeAdmin)
	}
	signed, err := middleware.IssueToken(secret, caller, *issuer, scopes, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, signed)
	return nil
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(exportCommand, flag.ContinueOnError)
	driver := fs.String("driver", "sqlite", "Audit database driver (sqlite or postgres)")
	dsn := fs.String("dsn", "", "Audit database DSN")
	output := fs.String("out", "audit.parquet", "Parquet output path")
	var filter audit.Filter
	fs.StringVar(&filter.Position, "position", "", "Only records for this position")
	fs.StringVar(&filter.Owner, "owner", "", "Only records for this owner")
	fs.StringVar(&filter.Type, "type", "", "Only records of this event type")
	fs.Uint64Var(&filter.AfterSeq, "after", 0, "Only records after this sequence number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*dsn) == "" {
		return errors.New("-dsn is required")
	}

	db, err := audit.Open(*driver, *dsn)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	idx, err := audit.NewIndexer(db, nil)
	if err != nil {
		return err
	}
	n, err := idx.Export(context.Background(), *output, filter)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d records to %s\n", n, *output)
	return nil
}

func parseAddress(field, raw string) (ethcommon.Address, error) {
	raw = strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(raw) {
		return ethcommon.Address{}, fmt.Errorf("-%s: invalid address %q", field, raw)
	}
	return ethcommon.HexToAddress(raw), nil
}

func parseValue(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "max") {
		return common.Clone(token.MaxAllowance), nil
	}
	if raw == "" {
		return nil, errors.New("-value is required")
	}
	return common.ParseAmount(raw)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
