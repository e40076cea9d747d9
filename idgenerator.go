package eventsource

import "github.com/gofrs/uuid"

// idFunc is a global function that generates aggregate id's.
// It can be changed from the outside via the SetIDFunc function.
var idFunc = func() string {
	return uuid.Must(uuid.NewV4()).String()
}

// SetIDFunc is used to change how aggregate ID's are generated
// default is a v4 uuid
func SetIDFunc(f func() string) {
	idFunc = f
}
