package main

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/TrevorS/treemap"
	"github.com/TrevorS/treemap/gaussian"
)

// simConfig describes a 1-D SLAM run: a robot drives along a line, measures
// its own motion and the offset to landmarks within range.
type simConfig struct {
	Poses     int     `yaml:"poses"`
	Landmarks int     `yaml:"landmarks"`
	Range     float64 `yaml:"range"`
	OdoSigma  float64 `yaml:"odo_sigma"`
	ObsSigma  float64 `yaml:"obs_sigma"`
	Window    int     `yaml:"window"` // 0 keeps every pose
	Seed      int64   `yaml:"seed"`
}

func defaultSimConfig() simConfig {
	return simConfig{
		Poses:     200,
		Landmarks: 40,
		Range:     5,
		OdoSigma:  0.1,
		ObsSigma:  0.05,
		Seed:      1,
	}
}

func (c simConfig) validate() error {
	if c.Poses < 1 {
		return fmt.Errorf("poses must be >= 1, got %d", c.Poses)
	}
	if c.Landmarks < 0 {
		return fmt.Errorf("landmarks must be >= 0, got %d", c.Landmarks)
	}
	if !(c.OdoSigma > 0) || !(c.ObsSigma > 0) {
		return fmt.Errorf("sigmas must be > 0, got %g and %g", c.OdoSigma, c.ObsSigma)
	}
	if c.Window < 0 {
		return fmt.Errorf("window must be >= 0, got %d", c.Window)
	}
	return nil
}

type kind int

const (
	kindPose kind = iota
	kindLandmark
)

type entity struct {
	kind  kind
	index int
	id    treemap.FeatureID
	alive bool
}

// slamPolicy names features after the poses and landmarks they stand for
// and counts them.
type slamPolicy struct {
	treemap.BasePolicy

	byID         map[treemap.FeatureID]*entity
	poses        []*entity
	landmarks    []*entity
	measurements int
	marginalized int
}

func newSlamPolicy() *slamPolicy {
	return &slamPolicy{byID: make(map[treemap.FeatureID]*entity)}
}

func (p *slamPolicy) add(k kind, index int, id treemap.FeatureID) *entity {
	e := &entity{kind: k, index: index, id: id, alive: true}
	p.byID[id] = e
	if k == kindPose {
		p.poses = append(p.poses, e)
	} else {
		p.landmarks = append(p.landmarks, e)
	}
	return e
}

// sweep records poses whose feature was released by a join.
func (p *slamPolicy) sweep(tm *treemap.Treemap) {
	for _, e := range p.poses {
		if e.alive && !tm.IsFeatureLive(e.id) {
			e.alive = false
			delete(p.byID, e.id)
			p.marginalized++
		}
	}
}

func (p *slamPolicy) NameOfFeature(id treemap.FeatureID) (string, int) {
	e, ok := p.byID[id]
	if !ok {
		return p.BasePolicy.NameOfFeature(id)
	}
	if e.kind == kindPose {
		return fmt.Sprintf("x%d", e.index), 1
	}
	return fmt.Sprintf("l%d", e.index), 1
}

func (p *slamPolicy) SlamStatistics(*treemap.Treemap) treemap.SlamStatistics {
	return treemap.SlamStatistics{
		Landmarks:         len(p.landmarks),
		Measurements:      p.measurements,
		Poses:             len(p.poses),
		PosesMarginalized: p.marginalized,
	}
}

// simulation owns the treemap and the ground truth. mu guards tm so that
// the metrics endpoint can read statistics while the run progresses.
type simulation struct {
	cfg    simConfig
	rng    *rand.Rand
	mu     sync.Mutex
	tm     *treemap.Treemap
	policy *slamPolicy
	ws     *gaussian.Workspace

	truePose     []float64
	trueLandmark []float64
	landmarkID   []*entity
}

func newSimulation(cfg simConfig, tmCfg treemap.Config) (*simulation, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	policy := newSlamPolicy()
	tmCfg.Policy = policy
	tm, err := treemap.New(tmCfg)
	if err != nil {
		return nil, err
	}
	s := &simulation{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		tm:         tm,
		policy:     policy,
		ws:         gaussian.NewWorkspace(),
		landmarkID: make([]*entity, cfg.Landmarks),
	}
	length := float64(cfg.Poses)
	s.trueLandmark = make([]float64, cfg.Landmarks)
	for j := range s.trueLandmark {
		s.trueLandmark[j] = s.rng.Float64() * length
	}
	return s, nil
}

// run drives the robot through all poses.
func (s *simulation) run() error {
	for i := 0; i < s.cfg.Poses; i++ {
		if err := s.step(i); err != nil {
			return fmt.Errorf("pose %d: %w", i, err)
		}
	}
	return nil
}

func (s *simulation) step(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tm := s.tm
	pose := s.allocate(kindPose, i)
	id := pose.id

	if i == 0 {
		s.truePose = append(s.truePose, 0)
		tm.SetInitialEstimate(id, 0)
		prior, err := gaussian.NewPrior(id, 0, s.cfg.OdoSigma)
		if err != nil {
			return err
		}
		if err := s.addLeaf(prior); err != nil {
			return err
		}
	} else {
		prev := s.policy.poses[i-1]
		delta := 1 + s.rng.NormFloat64()*s.cfg.OdoSigma
		s.truePose = append(s.truePose, s.truePose[i-1]+delta)
		z := delta + s.rng.NormFloat64()*s.cfg.OdoSigma
		tm.SetInitialEstimate(id, tm.Estimate(prev.id)+z)
		odo, err := gaussian.NewMeasurement([]treemap.FeatureID{prev.id, id}, []float64{-1, 1}, z, s.cfg.OdoSigma)
		if err != nil {
			return err
		}
		if err := s.addLeaf(odo); err != nil {
			return err
		}
		s.retire(i)
	}

	x := s.truePose[i]
	for j, l := range s.trueLandmark {
		if math.Abs(l-x) > s.cfg.Range {
			continue
		}
		z := l - x + s.rng.NormFloat64()*s.cfg.ObsSigma
		lm := s.landmarkID[j]
		if lm == nil {
			lm = s.allocate(kindLandmark, j)
			tm.SetInitialEstimate(lm.id, tm.Estimate(pose.id)+z)
			s.landmarkID[j] = lm
		}
		obs, err := gaussian.NewMeasurement([]treemap.FeatureID{pose.id, lm.id}, []float64{-1, 1}, z, s.cfg.ObsSigma)
		if err != nil {
			return err
		}
		if err := s.addLeaf(obs); err != nil {
			return err
		}
	}
	return nil
}

// allocate hands out a feature for a new pose or landmark. Ids of poses
// released by joins may be reused, so those are recorded first.
func (s *simulation) allocate(k kind, index int) *entity {
	s.policy.sweep(s.tm)
	id := s.tm.AllocateBlock(1)
	s.tm.SetFeatureFlags(id, treemap.FeatureCanBeMarginalized)
	return s.policy.add(k, index, id)
}

func (s *simulation) addLeaf(g *gaussian.Dense) error {
	s.policy.measurements++
	_, err := s.tm.AddLeaf(g.WithWorkspace(s.ws), treemap.CanBeIntegrated)
	return err
}

// retire allows the pose that just left the window to be marginalized out
// by the next join that makes it local.
func (s *simulation) retire(i int) {
	if s.cfg.Window == 0 || i < s.cfg.Window {
		return
	}
	old := s.policy.poses[i-s.cfg.Window]
	if old.alive && s.tm.IsFeatureLive(old.id) {
		s.tm.SetFeatureFlags(old.id, treemap.FeatureCanBeMarginalizedOut)
	}
}

// report is the outcome of a run.
type report struct {
	Statistics treemap.Statistics     `yaml:"statistics"`
	Slam       treemap.SlamStatistics `yaml:"slam"`
	MaxQRError float64                `yaml:"max_qr_error"`
	RMSE       float64                `yaml:"rmse_poses"`
}

// finish computes the tree estimate, compares it with a batch solve and
// with the ground truth.
func (s *simulation) finish() (report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tm := s.tm
	if _, err := tm.OptimizeFullRuns(); err != nil {
		return report{}, err
	}
	if err := tm.ComputeNonlinearEstimate(); err != nil {
		return report{}, err
	}
	s.policy.sweep(tm)
	ref, err := tm.ComputeEstimateByQR()
	if err != nil {
		return report{}, err
	}

	r := report{Statistics: tm.Statistics(), Slam: tm.SlamStatistics()}
	for id, v := range ref {
		r.MaxQRError = math.Max(r.MaxQRError, math.Abs(tm.Estimate(id)-v))
	}
	n := 0
	for _, e := range s.policy.poses {
		if !e.alive {
			continue
		}
		d := tm.Estimate(e.id) - s.truePose[e.index]
		r.RMSE += d * d
		n++
	}
	if n > 0 {
		r.RMSE = math.Sqrt(r.RMSE / float64(n))
	}
	return r, nil
}
