package domain

// Role codes match the ones issued by the identity provider.
type Role string

const (
	RoleProvider  Role = "LP"
	RoleCustomer  Role = "LC"
	RolePersonnel Role = "BP"
)

func (r Role) Valid() bool {
	switch r {
	case RoleProvider, RoleCustomer, RolePersonnel:
		return true
	}
	return false
}

type Capability string

const (
	CapDefineParameters Capability = "define_parameters"
	CapApplyForLoan     Capability = "apply_for_loan"
	CapDecideLoan       Capability = "decide_loan"
	CapMakePayment      Capability = "make_payment"
	CapManageFunds      Capability = "manage_funds"
	CapViewLoans        Capability = "view_loans"
)

var capabilities = map[Role][]Capability{
	RolePersonnel: {CapDefineParameters, CapViewLoans},
	RoleCustomer:  {CapApplyForLoan, CapMakePayment, CapViewLoans},
	RoleProvider:  {CapDecideLoan, CapManageFunds, CapViewLoans},
}

// Principal is an already authenticated caller. SubjectID points at the
// provider, customer or personnel record the user is associated with.
type Principal struct {
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	SubjectID string `json:"subject_id"`
}

func (p Principal) Can(c Capability) bool {
	for _, have := range capabilities[p.Role] {
		if have == c {
			return true
		}
	}
	return false
}

// Owns reports whether the principal is a party to the loan.
func (p Principal) Owns(l *Loan) bool {
	switch p.Role {
	case RoleCustomer:
		return l.CustomerID == p.SubjectID
	case RoleProvider:
		return l.ProviderID == p.SubjectID
	case RolePersonnel:
		return true
	}
	return false
}
