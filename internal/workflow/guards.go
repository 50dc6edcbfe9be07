package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errOutstandingBalance  = errors.New("outstanding balance")
	errDocumentsMissing    = errors.New("required documents not submitted")
	errNoEquivalencies     = errors.New("no equivalencies mapped")
	errNoProgramHeadReview = errors.New("program head approval missing for current cycle")
)

func balanceSettled(s Snapshot) error {
	if s.BalanceCents > 0 {
		return fmt.Errorf("%w of %s", errOutstandingBalance, FormatCentavos(s.BalanceCents))
	}
	return nil
}

func documentsSubmitted(s Snapshot) error {
	if !s.DocumentsComplete {
		return errDocumentsMissing
	}
	return nil
}

func hasEquivalencies(s Snapshot) error {
	if len(s.Equivalencies) == 0 {
		return errNoEquivalencies
	}
	return nil
}

func equivalenciesComplete(s Snapshot) error {
	for _, eq := range s.Equivalencies {
		if missing := eq.MissingFields(); len(missing) > 0 {
			return fmt.Errorf("incomplete equivalency %s: missing %s", eq.ID, strings.Join(missing, ", "))
		}
	}
	return nil
}

func programHeadApprovedThisCycle(s Snapshot) error {
	if s.ProgramHeadApprovedCycle == nil || *s.ProgramHeadApprovedCycle != s.Cycle {
		return errNoProgramHeadReview
	}
	return nil
}

// FormatCentavos renders an amount as pesos, e.g. 1500000 -> "PHP 15,000.00".
func FormatCentavos(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := fmt.Sprintf("%d", cents/100)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%sPHP %s.%02d", sign, b.String(), cents%100)
}
