package memory

import (
	"loan_manager/internal/repository"
)

var (
	_ repository.Store               = (*Store)(nil)
	_ repository.Tx                  = (*tx)(nil)
	_ repository.AccountRepository   = (*txAccounts)(nil)
	_ repository.LoanRepository      = (*txLoans)(nil)
	_ repository.PaymentRepository   = (*txPayments)(nil)
	_ repository.ParameterRepository = (*txParameters)(nil)
)
