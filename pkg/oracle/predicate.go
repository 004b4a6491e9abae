package oracle

import "strings"

// AtomKind enumerates the atomic predicates. The set is closed: every
// higher-level rule is a boolean combination of these.
type AtomKind int

const (
	// Assessment predicates
	AtomIsOwner AtomKind = iota
	AtomIsMemberOfConnectedOrganisation
	AtomIsAdminOfConnectedOrganisation
	AtomIsSharedWith
	AtomIsInOrganisation
	AtomPayloadUnlocked

	// Organisation predicates
	AtomIsMemberOfOrganisation
	AtomIsAdminOfOrganisation
	AtomIsLibrarianOfOrganisation
	AtomTargetIsOrgMember

	// Library predicates
	AtomIsLibraryOwner
	AtomIsLibraryPersonal
	AtomIsLibraryOrganisational
	AtomIsLibraryGlobal
	AtomIsMemberOfLibraryOwnerOrg
	AtomIsLibrarianOfLibraryOwnerOrg
	AtomIsAdminOfLibraryOwnerOrg
	AtomLibrarySharedWithPrincipalOrg

	// Principal-wide predicates
	AtomIsAdminOfAnyOrganisation
	AtomIsSuperuser

	// Request predicates
	AtomIsReadRequest
	AtomIsWriteRequest
)

var atomNames = map[AtomKind]string{
	AtomIsOwner:                         "IsOwner",
	AtomIsMemberOfConnectedOrganisation: "IsMemberOfConnectedOrganisation",
	AtomIsAdminOfConnectedOrganisation:  "IsAdminOfConnectedOrganisation",
	AtomIsSharedWith:                    "IsSharedWith",
	AtomIsInOrganisation:                "IsInOrganisation",
	AtomPayloadUnlocked:                 "PayloadUnlocked",
	AtomIsMemberOfOrganisation:          "IsMemberOfOrganisation",
	AtomIsAdminOfOrganisation:           "IsAdminOfOrganisation",
	AtomIsLibrarianOfOrganisation:       "IsLibrarianOfOrganisation",
	AtomTargetIsOrgMember:               "TargetIsOrgMember",
	AtomIsLibraryOwner:                  "IsLibraryOwner",
	AtomIsLibraryPersonal:               "IsLibraryPersonal",
	AtomIsLibraryOrganisational:         "IsLibraryOrganisational",
	AtomIsLibraryGlobal:                 "IsLibraryGlobal",
	AtomIsMemberOfLibraryOwnerOrg:       "IsMemberOfLibraryOwnerOrg",
	AtomIsLibrarianOfLibraryOwnerOrg:    "IsLibrarianOfLibraryOwnerOrg",
	AtomIsAdminOfLibraryOwnerOrg:        "IsAdminOfLibraryOwnerOrg",
	AtomLibrarySharedWithPrincipalOrg:   "LibrarySharedWithPrincipalOrg",
	AtomIsAdminOfAnyOrganisation:        "IsAdminOfAnyOrganisation",
	AtomIsSuperuser:                     "IsSuperuser",
	AtomIsReadRequest:                   "IsReadRequest",
	AtomIsWriteRequest:                  "IsWriteRequest",
}

// Expr is a permission expression: either an atom or a boolean combination
// of sub-expressions. The variant set is closed so a single interpreter
// can evaluate any rule without reflection.
type Expr interface {
	isExpr()
	String() string
}

// Atom is a leaf predicate.
type Atom struct {
	Kind AtomKind
}

// And is true when every operand is true. An empty And is true.
type And struct {
	Operands []Expr
}

// Or is true when at least one operand is true. An empty Or is false.
type Or struct {
	Operands []Expr
}

// Not negates its operand.
type Not struct {
	Operand Expr
}

func (Atom) isExpr() {}
func (And) isExpr()  {}
func (Or) isExpr()   {}
func (Not) isExpr()  {}

func (a Atom) String() string { return atomNames[a.Kind] }

func (a And) String() string { return joinExprs(a.Operands, " AND ") }

func (o Or) String() string { return joinExprs(o.Operands, " OR ") }

func (n Not) String() string { return "NOT " + n.Operand.String() }

func joinExprs(ops []Expr, sep string) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Is returns an atom expression.
func Is(kind AtomKind) Expr { return Atom{Kind: kind} }

// AllOf combines expressions with AND.
func AllOf(ops ...Expr) Expr { return And{Operands: ops} }

// AnyOf combines expressions with OR.
func AnyOf(ops ...Expr) Expr { return Or{Operands: ops} }

// Negate wraps an expression in NOT.
func Negate(op Expr) Expr { return Not{Operand: op} }

// ReadWriteSplit builds the composite rule for an endpoint that accepts
// both read and write methods against the same resource:
// (IsReadRequest AND read) OR (IsWriteRequest AND write).
func ReadWriteSplit(read, write Expr) Expr {
	return AnyOf(
		AllOf(Is(AtomIsReadRequest), read),
		AllOf(Is(AtomIsWriteRequest), write),
	)
}

// Eval evaluates the expression against the environment. Evaluation is
// pure: it touches only snapshots already loaded into env.
func Eval(e Expr, env *Env) bool {
	switch x := e.(type) {
	case Atom:
		return env.atom(x.Kind)
	case And:
		for _, op := range x.Operands {
			if !Eval(op, env) {
				return false
			}
		}
		return true
	case Or:
		for _, op := range x.Operands {
			if Eval(op, env) {
				return true
			}
		}
		return false
	case Not:
		return !Eval(x.Operand, env)
	default:
		return false
	}
}
