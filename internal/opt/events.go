package opt

// Events are synchronous observer hooks. Handlers run on the optimizer
// goroutine and must not mutate optimizer state. A non-nil error from
// PostInitialise or PostIteration aborts the run once that phase is done. A
// non-nil error from PostUpdate aborts the current iteration right after the
// promotion that fired it: the rest of that iteration does not run and no
// iteration record is appended. The surrogate and tree stay consistent in
// every case and can be snapshotted.
type Events struct {
	PostInitialise func(*Optimizer) error // after the center evaluation and first training
	PostIteration  func(*Optimizer) error // after each committed iteration
	PostUpdate     func(*Optimizer) error // after a GP-based row is promoted to evaluated
	PreFinalise    func(*Optimizer) error // before results are assembled
}

func (e Events) postInitialise(o *Optimizer) error {
	if e.PostInitialise == nil {
		return nil
	}
	return e.PostInitialise(o)
}

func (e Events) postIteration(o *Optimizer) error {
	if e.PostIteration == nil {
		return nil
	}
	return e.PostIteration(o)
}

func (e Events) postUpdate(o *Optimizer) error {
	if e.PostUpdate == nil {
		return nil
	}
	return e.PostUpdate(o)
}

func (e Events) preFinalise(o *Optimizer) error {
	if e.PreFinalise == nil {
		return nil
	}
	return e.PreFinalise(o)
}
