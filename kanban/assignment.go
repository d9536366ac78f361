package kanban

// Assignment is one card assigned to one user, together with the list that
// currently holds the card. It is the read shape the workload engine consumes.
type Assignment struct {
	UserID   string
	UserName string
	Card     Card
	List     List
}
