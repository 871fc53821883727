// Package prompt reads interactive input for the CLI commands. Secret
// input is hidden when stdin is a terminal and read plainly when piped.
package prompt

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ConsolePrompter reads from stdin and writes prompts to stdout.
type ConsolePrompter struct {
	reader *bufio.Reader
}

// NewConsolePrompter creates a prompter over os.Stdin.
func NewConsolePrompter() *ConsolePrompter {
	return &ConsolePrompter{reader: bufio.NewReader(os.Stdin)}
}

// Secret prompts for sensitive input. On a terminal the input is not
// echoed; piped input is read as one trimmed line so scripts work.
func (p *ConsolePrompter) Secret(message string) (string, error) {
	fmt.Print(message)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	value, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	// ReadPassword swallows the user's newline
	fmt.Println()
	return string(value), nil
}

// Confirm asks a yes/no question and defaults to no.
func (p *ConsolePrompter) Confirm(message string) (bool, error) {
	fmt.Printf("%s [y/N]: ", message)

	line, err := p.reader.ReadString('\n')
	if err != nil {
		return false, err
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
