// Package user holds LIEStudio accounts: the User model, the Repository
// contract implemented by memstore and pgstore, and the Manager that performs
// login validation, session binding, logout and password retrieval.
package user
