package compiler

import (
	"fmt"
	"slices"
)

// DiffType is the kind of change a step makes to its resource.
type DiffType string

// Diff types.
const (
	DiffTypeAdd    DiffType = "add"
	DiffTypeRemove DiffType = "remove"
	DiffTypeModify DiffType = "modify"
	DiffTypeNone   DiffType = "none"
)

var diffSymbols = map[DiffType]string{
	DiffTypeAdd:    "+",
	DiffTypeRemove: "-",
	DiffTypeModify: "~",
}

// Diff is the change a step would make: a package installed, a vhost
// rewritten, a firewall rule opened.
type Diff struct {
	diffType DiffType
	resource string
	name     string
	from     string
	to       string
}

// NewDiff describes a change of resource name from one value to another.
// Either value may be empty.
func NewDiff(diffType DiffType, resource, name, from, to string) Diff {
	return Diff{diffType: diffType, resource: resource, name: name, from: from, to: to}
}

func (d Diff) Type() DiffType   { return d.diffType }
func (d Diff) Resource() string { return d.resource }
func (d Diff) Name() string     { return d.name }
func (d Diff) NewValue() string { return d.to }

// Summary renders the change on one line, e.g. "+ package nginx (installed)"
// or "~ firewall ufw (inactive → active)".
func (d Diff) Summary() string {
	symbol, ok := diffSymbols[d.diffType]
	if !ok {
		symbol = " "
	}
	head := fmt.Sprintf("%s %s %s", symbol, d.resource, d.name)

	switch {
	case d.diffType == DiffTypeRemove && d.from != "":
		return fmt.Sprintf("%s (%s)", head, d.from)
	case d.diffType == DiffTypeModify && (d.from != "" || d.to != ""):
		return fmt.Sprintf("%s (%s → %s)", head, d.from, d.to)
	case d.diffType == DiffTypeAdd:
		return fmt.Sprintf("%s (%s)", head, d.to)
	}
	return head
}

// IsEmpty reports whether the diff names no resource at all.
func (d Diff) IsEmpty() bool {
	return d.resource == "" && d.name == "" && (d.diffType == "" || d.diffType == DiffTypeNone)
}

// Explanation says what a step is for. plan --explain prints it under the
// step.
type Explanation struct {
	summary string
	detail  string
	links   []string
}

// NewExplanation creates an Explanation. links may be nil.
func NewExplanation(summary, detail string, links []string) Explanation {
	return Explanation{summary: summary, detail: detail, links: slices.Clone(links)}
}

func (e Explanation) Summary() string { return e.summary }
func (e Explanation) Detail() string  { return e.detail }

// DocLinks returns a copy of the reference links.
func (e Explanation) DocLinks() []string {
	return slices.Clone(e.links)
}
