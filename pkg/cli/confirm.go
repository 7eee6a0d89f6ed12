package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"remedy-audit/internal/domain"
)

// stdinIsTerminal reports whether prompts can be answered interactively.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirmOptions are the non-interactive answers given on the command line.
type confirmOptions struct {
	yes            bool
	acceptHighRisk bool
}

// confirmRollback asks the operator to approve the previewed rollback and
// returns whether the high-risk acknowledgement was given. HIGH risk needs
// the audit id retyped; anything else needs a plain yes.
func confirmRollback(in io.Reader, out io.Writer, id string, risk domain.RiskLevel, opts confirmOptions) (bool, error) {
	if risk == domain.RiskHigh {
		if opts.acceptHighRisk {
			return true, nil
		}
		if !stdinIsTerminal() {
			return false, &domain.RiskAcknowledgementRequiredError{AuditID: id, Risk: risk}
		}
		_, _ = fmt.Fprintf(out, "\nWARNING: this rollback is HIGH risk and may not be reversible.\n")
		answer, err := prompt(in, out, fmt.Sprintf("Type the audit id (%s) to confirm: ", id))
		if err != nil {
			return false, err
		}
		if answer != id {
			return false, domain.ErrValidation("confirmation %q does not match audit id %s", answer, id)
		}
		return true, nil
	}

	if opts.yes || opts.acceptHighRisk {
		return false, nil
	}
	if !stdinIsTerminal() {
		return false, domain.ErrValidation("rollback of %s needs confirmation: pass --yes when not running interactively", id)
	}
	answer, err := prompt(in, out, "Proceed with rollback? [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return false, nil
	default:
		return false, domain.ErrValidation("rollback of %s cancelled", id)
	}
}

func prompt(in io.Reader, out io.Writer, question string) (string, error) {
	_, _ = fmt.Fprint(out, question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read confirmation: %w", err)
	}
	return strings.TrimSpace(line), nil
}
