// Package version implements the bundle version identifier: a fixed-width
// YYMMDD-NN token whose lexicographic ordering equals chronological ordering.
package version

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/bundleforge/bundleforge/pkg/errdefs"
)

// ID is a validated bundle version identifier of the form YYMMDD-NN.
type ID string

// DateLayout is the Go time layout producing the YYMMDD date prefix.
const DateLayout = "060102"

// maxSequence is the highest sequence number that fits in two digits.
const maxSequence = 99

var pattern = regexp.MustCompile(`^\d{6}-\d{2}$`)

// Parse validates s as a version identifier.
func Parse(s string) (ID, error) {
	if !pattern.MatchString(s) {
		return "", errdefs.NewValidation(
			fmt.Sprintf("invalid version %q: expected YYMMDD-NN", s), nil)
	}
	if seq := mustSequence(s); seq < 1 {
		return "", errdefs.NewValidation(
			fmt.Sprintf("invalid version %q: sequence must be 01-99", s), nil)
	}
	return ID(s), nil
}

// IsValid reports whether s parses as a version identifier.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

// Date returns the YYMMDD date prefix.
func (id ID) Date() string { return string(id)[:6] }

// Sequence returns the NN sequence number.
func (id ID) Sequence() int { return mustSequence(string(id)) }

func mustSequence(s string) int {
	n, err := strconv.Atoi(s[7:])
	if err != nil {
		return 0
	}
	return n
}

// Next mints the identifier following the existing ones for today's UTC date.
// Identifiers minted on other dates are ignored. Fails with a conflict error
// once 99 versions exist for the date.
func Next(existing []ID, now time.Time) (ID, error) {
	today := now.UTC().Format(DateLayout)

	maxSeq := 0
	for _, id := range existing {
		if id.Date() != today {
			continue
		}
		if seq := id.Sequence(); seq > maxSeq {
			maxSeq = seq
		}
	}

	if maxSeq >= maxSequence {
		return "", &errdefs.Error{
			Class:   errdefs.ErrorClassConflict,
			Message: fmt.Sprintf("version capacity exhausted for date %s", today),
			Code:    errdefs.CodeCapacityExceeded,
		}
	}

	return ID(fmt.Sprintf("%s-%02d", today, maxSeq+1)), nil
}

// SortDescending orders identifiers newest-first. The fixed-width format
// makes reverse lexicographic order equal reverse chronological order.
func SortDescending(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
}

// Latest returns the chronologically greatest identifier, or "" if none.
func Latest(ids []ID) ID {
	var latest ID
	for _, id := range ids {
		if id > latest {
			latest = id
		}
	}
	return latest
}
