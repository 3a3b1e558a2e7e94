package opt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Motorfan/gpso/internal/gp"
	"github.com/Motorfan/gpso/internal/surrogate"
	"github.com/Motorfan/gpso/internal/tree"
)

func gpMean() gp.Mean { return gp.ConstMean{} }
func gpCov() gp.Cov   { return gp.MaternIso{} }

func gpStateToHyper(s GPState) gp.Hyper {
	return gp.Hyper{
		Mean: append([]float64(nil), s.Mean...),
		Cov:  append([]float64(nil), s.Cov...),
		Lik:  s.Lik,
	}
}

const SnapshotVersion = "0.1"

var ErrBadSnapshot = errors.New("invalid snapshot")

// Snapshot is the versioned, self-describing persisted state of a run. All
// numeric arrays round-trip exactly through JSON, so a restored optimizer
// behaves identically to one that never stopped.
type Snapshot struct {
	Version   string       `json:"version"`
	Options   Options      `json:"options"`
	NMax      int          `json:"n_max"`
	XI        float64      `json:"xi"`
	RetrainN  int          `json:"retrain_n"`
	LB        float64      `json:"lb"`
	Exhausted bool         `json:"exhausted"`
	Iter      []IterRecord `json:"iter"`
	Tree      TreeState    `json:"tree"`
	Surrogate SurrState    `json:"surrogate"`
}

type TreeState struct {
	Dim    int              `json:"dim"`
	Levels []tree.LevelData `json:"levels"`
}

type SurrState struct {
	Lower []float64   `json:"lower"`
	Upper []float64   `json:"upper"`
	X     [][]float64 `json:"x"`
	Y     []float64   `json:"y"`
	Sigma []float64   `json:"sigma"`
	UCB   []float64   `json:"ucb"`
	Ne    int         `json:"ne"`
	Ng    int         `json:"ng"`
	GP    GPState     `json:"gp"`
}

type GPState struct {
	Mean []float64 `json:"mean"`
	Cov  []float64 `json:"cov"`
	Lik  float64   `json:"lik"`
}

// Snapshot captures the current state of an initialized optimizer.
func (o *Optimizer) Snapshot() *Snapshot {
	if o.surr == nil {
		panic("cannot snapshot an uninitialized optimizer")
	}
	s := o.surr
	surrState := SurrState{
		Lower: append([]float64(nil), s.Lower()...),
		Upper: append([]float64(nil), s.Upper()...),
		X:     make([][]float64, s.Len()),
		Y:     make([]float64, s.Len()),
		Sigma: make([]float64, s.Len()),
		UCB:   make([]float64, s.Len()),
		Ne:    s.Evaluated(),
		Ng:    s.GPBased(),
	}
	for k := range s.Len() {
		surrState.X[k] = append([]float64(nil), s.X(k)...)
		surrState.Y[k] = s.Mu(k)
		surrState.Sigma[k] = s.Sigma(k)
		surrState.UCB[k] = s.UCB(k)
	}
	hyp := s.Hyper()
	surrState.GP = GPState{Mean: hyp.Mean, Cov: hyp.Cov, Lik: hyp.Lik}
	return &Snapshot{
		Version:   SnapshotVersion,
		Options:   o.opts,
		NMax:      o.nmax,
		XI:        o.xi,
		RetrainN:  o.retrain,
		LB:        o.lb,
		Exhausted: o.exhausted,
		Iter:      append([]IterRecord(nil), o.iters...),
		Tree:      TreeState{Dim: o.tree.Dim(), Levels: o.tree.Export()},
		Surrogate: surrState,
	}
}

// Save writes the snapshot as JSON.
func (o *Optimizer) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(o.Snapshot())
}

// Load reads and validates a snapshot written by Save.
func Load(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w, %s", ErrBadSnapshot, err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w, version %q is not %q", ErrBadSnapshot, snap.Version, SnapshotVersion)
	}
	n := len(snap.Surrogate.X)
	if snap.Surrogate.Ne+snap.Surrogate.Ng != n {
		return nil, fmt.Errorf("%w, %d evaluated + %d gp-based != %d rows",
			ErrBadSnapshot, snap.Surrogate.Ne, snap.Surrogate.Ng, n)
	}
	return &snap, nil
}

// Restore rebuilds an optimizer from a snapshot; the objective is supplied
// by the caller since callables are not persisted. The returned optimizer
// continues with Step and Finalise exactly where the snapshot left off.
func Restore(snap *Snapshot, objective Objective) (*Optimizer, error) {
	if objective == nil {
		panic("nil objective")
	}
	o := New(snap.Options)
	ss := snap.Surrogate
	hyp := gpStateToHyper(ss.GP)
	surr, err := surrogate.Restore(ss.Lower, ss.Upper, ss.X, ss.Y, ss.Sigma, ss.UCB,
		hyp, gpMean(), gpCov(), o.schedule())
	if err != nil {
		return nil, err
	}
	if surr.Evaluated() != ss.Ne || surr.GPBased() != ss.Ng {
		return nil, fmt.Errorf("%w, sigma column disagrees with stored counts (%d/%d vs %d/%d)",
			ErrBadSnapshot, surr.Evaluated(), surr.GPBased(), ss.Ne, ss.Ng)
	}
	o.surr = surr
	o.obj = objective
	o.tree = tree.Restore(snap.Tree.Dim, snap.Tree.Levels)
	o.nmax = snap.NMax
	o.upc = snap.Options.UpC
	if o.upc == 0 {
		o.upc = float64(2 * surr.Dim())
	}
	o.xi, o.xiMax = snap.XI, ximax(surr.Dim())
	o.retrain = snap.RetrainN
	o.lb = snap.LB
	o.exhausted = snap.Exhausted
	o.iters = append([]IterRecord(nil), snap.Iter...)
	return o, nil
}
