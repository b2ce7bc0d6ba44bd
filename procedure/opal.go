package procedure

import (
	"context"

	"github.com/ftahirops/nvmequal/device"
	"github.com/ftahirops/nvmequal/engine"
	"github.com/ftahirops/nvmequal/opal"
	"github.com/ftahirops/nvmequal/runner"
)

// OpalCapable checks the drive reports locking support.
type OpalCapable struct {
	engine.Base
	env *Env
}

func NewOpalCapable(env *Env) *OpalCapable {
	return &OpalCapable{Base: engine.NewBase("opal_capable", "Verifies that the drive is capable of Opal"), env: env}
}

func (p *OpalCapable) Execute(ctx context.Context) error {
	ctx, log := p.Begin(ctx)
	ok, err := opal.Capable(ctx, p.env.Opal, p.env.drive())
	if err != nil {
		return err
	}
	if !ok {
		log.Error("drive is not capable of OPAL", "device", p.env.drive())
		return nil
	}
	log.Info("drive appears to be OPAL capable", "device", p.env.drive())
	p.Pass()
	return nil
}

// OpalLockTest locks the drive, requires reads to be refused, unlocks it and
// requires reads to work again. The drive is PSID reverted at the end.
type OpalLockTest struct {
	engine.Base
	env *Env

	// Session is the state machine of the last execution.
	Session *opal.Session
}

func NewOpalLockTest(env *Env) *OpalLockTest {
	return &OpalLockTest{
		Base: engine.NewBase("opal_test_locked_write",
			"Locks a drive, tries to write to it. Should fail the write. Will then unlock."),
		env: env,
	}
}

func (p *OpalLockTest) Execute(ctx context.Context) error {
	ctx, log := p.Begin(ctx)
	e := p.env
	n1 := device.NamespacePath(e.drive(), 1)

	lt := &opal.LockTest{
		Tool:   e.Opal,
		Device: e.drive(),
		PSID:   e.Config.Drive.PSID,
		Prep: func(ctx context.Context) error {
			return e.factoryReset(ctx, log)
		},
		Probe: func(ctx context.Context) (runner.Result, error) {
			j := e.job("seqread", "read", "128k", 64, 5, n1)
			j.Ramp = 2
			j.IOEngine = ""
			return e.Fio.Run(ctx, j)
		},
		Marker: "error on file " + n1,
	}

	s, err := lt.Run(ctx)
	p.Session = s
	if err != nil {
		return err
	}
	log.Info("test passed", "path", s.Path)
	p.Pass()
	return nil
}
