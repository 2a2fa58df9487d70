package supervisor

// canTransition reports whether a worker may move from one status to another.
// stopped and crashed are terminal: a new process gets a new worker entry.
func canTransition(from, to WorkerStatus) bool {
	switch from {
	case StatusStarting:
		switch to {
		case StatusRunning, StatusCrashed, StatusStopping:
			return true
		}
		return false
	case StatusRunning:
		switch to {
		case StatusStopping, StatusCrashed:
			return true
		}
		return false
	case StatusStopping:
		return to == StatusStopped
	default:
		return false
	}
}

func isTerminal(status WorkerStatus) bool {
	return status == StatusStopped || status == StatusCrashed
}
