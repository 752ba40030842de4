package engine_test

import (
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/engine"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func newEngine(cfg *config.Config) *engine.Engine {
	e, err := engine.New(cfg, engine.WithLogger(quietLogger()))
	gomega.ExpectWithOffset(1, err).NotTo(gomega.HaveOccurred())
	return e
}

var _ = ginkgo.Describe("Stabilizer engine", func() {
	var cfg *config.Config

	ginkgo.BeforeEach(func() {
		cfg = config.DefaultConfig()
	})

	ginkgo.Context("Scenario A: undisturbed P controller at the reference", func() {
		ginkgo.BeforeEach(func() {
			cfg.Mode = dynamo.ModeP
			cfg.Kp = 0.5
			cfg.Reference = 220
		})

		for _, policy := range []dynamo.PlantPolicy{dynamo.Incremental, dynamo.DirectSettle} {
			policy := policy
			ginkgo.It("holds error at 0 and output at 220 under "+string(policy), func() {
				cfg.Policy = policy
				e, err := engine.New(cfg, engine.WithLogger(quietLogger()), engine.WithInitialOutput(220))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())

				gomega.Expect(e.Run(200)).To(gomega.Equal(200))
				for _, s := range e.HistoryWindow(dynamo.Window{}) {
					gomega.Expect(s.Error).To(gomega.BeZero())
					gomega.Expect(s.Output).To(gomega.Equal(220.0))
				}
				gomega.Expect(e.FaultStatus().Tripped()).To(gomega.BeFalse())
			})
		}
	})

	ginkgo.It("starts from an explicit initial output", func() {
		cfg.Mode = dynamo.ModeP
		cfg.Policy = dynamo.Incremental
		e, err := engine.New(cfg, engine.WithLogger(quietLogger()), engine.WithInitialOutput(230))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(e.State().Output).To(gomega.Equal(230.0))

		s, ok := e.Tick()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(s.Measured).To(gomega.Equal(230.0))
		gomega.Expect(s.Output).To(gomega.BeNumerically("~", 229.5, 1e-9))
	})

	ginkgo.Context("Scenario B: large inductive disturbance", func() {
		ginkgo.BeforeEach(func() {
			cfg.Kp = 0.9
			cfg.Protection.TripMode = dynamo.TripInstantaneous
			cfg.Protection.TripFraction = 0.08
			cfg.Reference = 220
		})

		for _, policy := range []dynamo.PlantPolicy{dynamo.Incremental, dynamo.DirectSettle} {
			policy := policy
			ginkgo.It("blows the fuse by the tick measuring above 237.6 under "+string(policy), func() {
				cfg.Policy = policy
				e := newEngine(cfg)

				gomega.Expect(e.InjectDisturbance(dynamo.Inductive, 200)).To(gomega.Succeed())
				var tripTick uint64
				found := false
				for i := 0; i < 20 && !found; i++ {
					s, ok := e.Tick()
					gomega.Expect(ok).To(gomega.BeTrue())
					if s.Measured > 220*1.08 || s.Faulted {
						tripTick, found = s.Tick, true
					}
				}
				gomega.Expect(found).To(gomega.BeTrue())
				gomega.Expect(e.FaultStatus()).To(gomega.Equal(dynamo.FaultStatus{Reason: dynamo.FuseBlown}))

				last, _ := e.LastSample()
				gomega.Expect(last.Tick).To(gomega.Equal(tripTick))
				gomega.Expect(last.Faulted).To(gomega.BeTrue())
			})
		}

		ginkgo.It("keeps the output forced to 0 until reset", func() {
			e := newEngine(cfg)
			gomega.Expect(e.InjectDisturbance(dynamo.Inductive, 200)).To(gomega.Succeed())
			e.Run(50)

			for _, s := range e.HistoryWindow(dynamo.Window{}) {
				gomega.Expect(s.Output).To(gomega.BeZero())
				gomega.Expect(s.Faulted).To(gomega.BeTrue())
			}
			gomega.Expect(e.State().Tick).To(gomega.Equal(uint64(50)))
		})
	})

	ginkgo.Context("Scenario C: reset while tripped", func() {
		ginkgo.It("returns Normal immediately and stops forcing output to 0", func() {
			e := newEngine(cfg)
			gomega.Expect(e.InjectDisturbance(dynamo.Inductive, 200)).To(gomega.Succeed())
			e.Run(5)
			gomega.Expect(e.FaultStatus().Tripped()).To(gomega.BeTrue())
			before := len(e.HistoryWindow(dynamo.Window{}))

			e.Reset()
			gomega.Expect(e.FaultStatus()).To(gomega.Equal(dynamo.FaultStatus{}))

			s, ok := e.Tick()
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(s.Faulted).To(gomega.BeFalse())
			gomega.Expect(s.Output).To(gomega.Equal(220.0))

			// history and logical time survive the reset
			gomega.Expect(e.HistoryWindow(dynamo.Window{})).To(gomega.HaveLen(before + 1))
			gomega.Expect(s.Tick).To(gomega.Equal(uint64(5)))
		})

		ginkgo.It("restores the commanded input voltage with the input baseline", func() {
			cfg.ResetBaseline = dynamo.BaselineInput
			e := newEngine(cfg)
			gomega.Expect(e.SetInputVoltage(215)).To(gomega.Succeed())
			gomega.Expect(e.InjectDisturbance(dynamo.Electromagnetic, -100)).To(gomega.Succeed())
			e.Run(2)
			gomega.Expect(e.FaultStatus().Reason).To(gomega.Equal(dynamo.ControllerFailure))

			e.Reset()
			gomega.Expect(e.State().Output).To(gomega.Equal(215.0))
			gomega.Expect(e.State().PrevError).To(gomega.BeZero())
		})
	})

	ginkgo.Context("Accumulated energy protection", func() {
		ginkgo.BeforeEach(func() {
			cfg.Protection.TripMode = dynamo.TripEnergy
			cfg.Protection.FuseEnergy = 5
			cfg.Mode = dynamo.ModeP
		})

		ginkgo.It("drains residual energy after a brief excursion", func() {
			cfg.Policy = dynamo.DirectSettle
			e := newEngine(cfg)

			gomega.Expect(e.InjectDisturbance(dynamo.Inductive, 100)).To(gomega.Succeed())
			e.Run(1)
			gomega.Expect(e.State().FaultEnergy).To(gomega.BeNumerically(">", 0))

			prev := e.State().FaultEnergy
			e.Run(600)
			gomega.Expect(e.FaultStatus().Tripped()).To(gomega.BeFalse())
			gomega.Expect(e.State().FaultEnergy).To(gomega.BeZero())
			for _, s := range e.HistoryWindow(dynamo.Window{}) {
				gomega.Expect(s.FaultEnergy).To(gomega.BeNumerically(">=", 0))
				gomega.Expect(s.FaultEnergy).To(gomega.BeNumerically("<", prev+1))
			}
		})

		ginkgo.It("blows the fuse on a sustained excursion", func() {
			e := newEngine(cfg)
			gomega.Expect(e.SetReference(300)).To(gomega.Succeed())

			e.Run(30)
			gomega.Expect(e.FaultStatus()).To(gomega.Equal(dynamo.FaultStatus{Reason: dynamo.FuseBlown}))
			last, _ := e.LastSample()
			gomega.Expect(last.Output).To(gomega.BeZero())
		})
	})
})
