package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/IMALI-DEFI/Imali-sub000/internal/securemem"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// minPassphraseLen is the shortest keystore passphrase accepted.
const minPassphraseLen = 8

// Prompt functions are variables so tests can replace them.
//
//nolint:gochecknoglobals // Replaced in tests
var (
	promptPasswordFn    = promptPassword
	promptNewPasswordFn = promptNewPassword
	promptMnemonicFn    = promptMnemonic
	promptApproveFn     = promptApprove
)

// promptPassword prompts for a password with hidden input.
// The caller is responsible for zeroing the returned bytes after use.
func promptPassword(prompt string) ([]byte, error) {
	out(os.Stderr, "%s", prompt)

	password, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // syscall.Stdin is not int on every platform
	outln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	return password, nil
}

// promptNewPassword prompts for a new password with confirmation.
// The caller is responsible for zeroing the returned bytes after use.
func promptNewPassword() ([]byte, error) {
	password, err := promptPasswordFn("Choose a keystore passphrase: ")
	if err != nil {
		return nil, err
	}

	if len(password) < minPassphraseLen {
		securemem.Zero(password)
		return nil, imalierr.WithSuggestion(imalierr.ErrInvalidInput,
			fmt.Sprintf("passphrase must be at least %d characters", minPassphraseLen))
	}

	confirm, err := promptPasswordFn("Confirm passphrase: ")
	if err != nil {
		securemem.Zero(password)
		return nil, err
	}
	defer securemem.Zero(confirm)

	if string(password) != string(confirm) {
		securemem.Zero(password)
		return nil, imalierr.WithSuggestion(imalierr.ErrInvalidInput, "passphrases do not match")
	}

	return password, nil
}

// promptMnemonic reads a mnemonic phrase from one line of stdin.
func promptMnemonic() (string, error) {
	out(os.Stderr, "Enter your mnemonic (all words on one line): ")
	return readLine(os.Stdin)
}

// promptApprove asks a yes/no question on the terminal. An unanswered
// prompt is abandoned when ctx ends.
func promptApprove(ctx context.Context, question string) (bool, error) {
	out(os.Stderr, "%s. Approve? [y/N]: ", question)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := readLine(os.Stdin)
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		outln(os.Stderr)
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return false, a.err
		}
		response := strings.ToLower(a.line)
		return response == "y" || response == "yes", nil
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
