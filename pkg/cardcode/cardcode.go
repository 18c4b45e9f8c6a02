// Package cardcode validates scheme card codes and derives member card
// numbers. A card code is exactly three alphanumeric characters; a card
// number is "{code}-{principal:03d}-{dependant:02d}" where the dependant
// block 00 marks the principal cardholder.
package cardcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/medscheme/medscheme/internal/platform/apperror"
)

const CodeLength = 3

var codePattern = regexp.MustCompile(`^[A-Z0-9]{3}$`)

// NormalizeCode uppercases and validates a scheme card code.
func NormalizeCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if len(normalized) != CodeLength {
		return "", apperror.NewInvalidValue("card_code",
			fmt.Sprintf("must be exactly %d characters", CodeLength))
	}
	if !codePattern.MatchString(normalized) {
		return "", apperror.NewInvalidValue("card_code", "must be alphanumeric")
	}
	return normalized, nil
}

// Format builds a card number from its components.
func Format(code string, principalSeq, dependantSeq int) string {
	return fmt.Sprintf("%s-%03d-%02d", code, principalSeq, dependantSeq)
}

// Parse splits a card number into its principal and dependant sequences.
// It returns ok=false when the number does not match the scheme's format,
// which happens for manually assigned non-conforming numbers.
func Parse(code, cardNumber string) (principalSeq, dependantSeq int, ok bool) {
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(code) + `-(\d{3})-(\d{2})$`)
	m := re.FindStringSubmatch(cardNumber)
	if m == nil {
		return 0, 0, false
	}
	principalSeq, _ = strconv.Atoi(m[1])
	dependantSeq, _ = strconv.Atoi(m[2])
	return principalSeq, dependantSeq, true
}

// PrincipalSeq extracts the 3-digit principal block from a card number that
// must end in the reserved principal suffix 00.
func PrincipalSeq(code, cardNumber string) (int, bool) {
	p, d, ok := Parse(code, cardNumber)
	if !ok || d != 0 {
		return 0, false
	}
	return p, true
}

// MaxPrincipalSeq scans card numbers and returns the highest principal
// sequence among those matching "{code}-NNN-00".
func MaxPrincipalSeq(code string, cardNumbers []string) int {
	max := 0
	for _, cn := range cardNumbers {
		if p, ok := PrincipalSeq(code, cn); ok && p > max {
			max = p
		}
	}
	return max
}

// MaxDependantSeq scans card numbers and returns the highest dependant
// sequence among those matching "{code}-{principalSeq:03d}-NN".
func MaxDependantSeq(code string, principalSeq int, cardNumbers []string) int {
	max := 0
	for _, cn := range cardNumbers {
		p, d, ok := Parse(code, cn)
		if ok && p == principalSeq && d > max {
			max = d
		}
	}
	return max
}
