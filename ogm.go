package reconcile

import (
	"fmt"
	"strconv"
	"strings"
)

// OGMErrorKind classifies why a structured payment reference failed to parse.
type OGMErrorKind int

const (
	// OGMNonNumeric means the string contained characters other than
	// decimal digits once whitespace and '+'/'/' separators were stripped.
	OGMNonNumeric OGMErrorKind = iota
	// OGMWrongLength means the stripped digit string was not exactly 12
	// digits long.
	OGMWrongLength
	// OGMBadChecksum means the trailing two digits did not match the
	// modulus-97 checksum of the leading ten.
	OGMBadChecksum
)

func (k OGMErrorKind) String() string {
	switch k {
	case OGMNonNumeric:
		return "non-numeric"
	case OGMWrongLength:
		return "wrong-length"
	case OGMBadChecksum:
		return "bad-checksum"
	default:
		return "unknown"
	}
}

// OGMError reports a malformed structured payment reference.
type OGMError struct {
	Kind  OGMErrorKind
	Input string
}

func (e *OGMError) Error() string {
	return fmt.Sprintf("invalid OGM %q: %s", e.Input, e.Kind)
}

const (
	ogmRecordDigits = 9
	ogmTotalDigits  = 12
	ogmMaxRecordID  = 999_999_999
)

// Encode builds the canonical 12-digit OGM string for a (prefix, recordID)
// pair: the prefix digit, the record id zero-padded to nine digits, and a
// two-digit modulus-97 checksum over the leading ten digits (a remainder of
// zero is rendered as 97, never as 00).
func Encode(prefix byte, recordID uint64) (string, error) {
	if prefix < '0' || prefix > '9' {
		return "", fmt.Errorf("ogm: prefix digit %q out of range", prefix)
	}
	if recordID > ogmMaxRecordID {
		return "", fmt.Errorf("ogm: record id %d exceeds %d digits", recordID, ogmRecordDigits)
	}
	leading := fmt.Sprintf("%c%09d", prefix, recordID)
	checksum := modulus97(leading)
	return fmt.Sprintf("%s%02d", leading, checksum), nil
}

// modulus97 computes the two-digit checksum used to validate an OGM's
// leading ten digits, mapping a zero remainder to 97.
func modulus97(leadingTenDigits string) int {
	n, _ := strconv.ParseUint(leadingTenDigits, 10, 64)
	rem := int(n % 97)
	if rem == 0 {
		rem = 97
	}
	return rem
}

// normalise strips whitespace and the '+'/'/' grouping separators accepted
// in the human-readable "+++NNN/NNNN/NNNNN+++" rendering, leaving only the
// raw candidate digit string.
func normalise(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case ' ', '\t', '\n', '\r', '+', '/':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Parse validates text as a structured payment reference, accepting either
// the canonical 12-digit form or the "+++NNN/NNNN/NNNNN+++" grouped form.
// On success it returns the prefix digit (0-9), the nine-digit record id,
// and the verified two-digit checksum.
func Parse(text string) (prefix byte, recordID uint64, checksum int, err error) {
	digits := normalise(text)
	if len(digits) != ogmTotalDigits {
		return 0, 0, 0, &OGMError{Kind: OGMWrongLength, Input: text}
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, 0, 0, &OGMError{Kind: OGMNonNumeric, Input: text}
		}
	}

	leading := digits[:10]
	want := modulus97(leading)
	got, _ := strconv.Atoi(digits[10:])
	if got != want {
		return 0, 0, 0, &OGMError{Kind: OGMBadChecksum, Input: text}
	}

	recID, _ := strconv.ParseUint(digits[1:10], 10, 64)
	return digits[0], recID, got, nil
}

// PrefixOf returns the prefix digit of a syntactically valid OGM string,
// equivalent to integer-dividing the leading ten digits by 10^9.
func PrefixOf(ogm string) (byte, error) {
	prefix, _, _, err := Parse(ogm)
	if err != nil {
		return 0, err
	}
	return prefix, nil
}

// Format renders a canonical 12-digit OGM in the human-readable
// "+++NNN/NNNN/NNNNN+++" grouping used on bank statements. It does not
// validate ogm beyond requiring it to be exactly 12 digits.
func Format(ogm string) string {
	digits := normalise(ogm)
	if len(digits) != ogmTotalDigits {
		return ogm
	}
	return fmt.Sprintf("+++%s/%s/%s+++", digits[0:3], digits[3:7], digits[7:12])
}
