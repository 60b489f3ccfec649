package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// prompter reads answers from the command's input. Passwords are read without
// echo when the input is a terminal.
type prompter struct {
	cmd    *cobra.Command
	reader *bufio.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{cmd: cmd, reader: bufio.NewReader(cmd.InOrStdin())}
}

// promptForInput prompts the user for input and returns the trimmed string.
func (p *prompter) promptForInput(prompt string) (string, error) {
	p.cmd.Print(prompt)
	input, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(input), nil
}

// promptForPassword prompts the user for a password securely and returns the trimmed string.
func (p *prompter) promptForPassword(prompt string) (string, error) {
	f, ok := p.cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.promptForInput(prompt)
	}

	p.cmd.Print(prompt)
	password, err := term.ReadPassword(int(f.Fd()))
	p.cmd.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(password)), nil
}

// validateCredentials checks if the identifier and password are not empty.
func validateCredentials(identifier, password string) bool {
	return identifier != "" && password != ""
}
