package entity

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sandevgo/percept/internal/core"
)

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte(core.AppRepositoryURL+"/entity"))

// Normalize folds a surface form for comparison: NFKC, case folding and
// collapsed whitespace.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// ID is the canonical id for a name of the given type. The same name always
// maps to the same id.
func ID(t core.EntityType, name string) string {
	return uuid.NewSHA1(idNamespace, []byte(string(t)+":"+Normalize(name))).String()
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
