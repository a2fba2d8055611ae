// Package sim is a simulated robot with a drivetrain and an intake, used by
// robotd to exercise the scheduler without hardware.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"robocmd/pkg/command"
	"robocmd/pkg/condition"
	logx "robocmd/pkg/logx"
	"robocmd/pkg/scheduler"
)

// Step is the simulated time per tick.
const Step = 20 * time.Millisecond

// Drivetrain integrates wheel speeds (m/s) into distance and heading.
type Drivetrain struct {
	mu       sync.Mutex
	left     float64
	right    float64
	distance float64
	heading  float64 // radians
	suid     scheduler.SUID
}

const trackWidth = 0.6 // meters

func (d *Drivetrain) SUID() scheduler.SUID { return d.suid }

func (d *Drivetrain) Set(left, right float64) {
	d.mu.Lock()
	d.left, d.right = clamp(left), clamp(right)
	d.mu.Unlock()
}

func (d *Drivetrain) Stop() { d.Set(0, 0) }

// Distance and Heading report integrated odometry.
func (d *Drivetrain) Distance() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.distance
}

func (d *Drivetrain) Heading() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heading
}

func (d *Drivetrain) Speeds() (left, right float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.left, d.right
}

func (d *Drivetrain) periodic() {
	dt := Step.Seconds()
	d.mu.Lock()
	d.distance += (d.left + d.right) / 2 * dt
	d.heading += (d.right - d.left) / trackWidth * dt
	d.mu.Unlock()
}

// Intake collects game pieces while running; at most one is held.
type Intake struct {
	mu       sync.Mutex
	running  bool
	holding  bool
	ticks    int
	shot     int
	suid     scheduler.SUID
	pickupIn int // ticks of running needed to pick up a piece
}

func (in *Intake) SUID() scheduler.SUID { return in.suid }

func (in *Intake) SetRunning(v bool) {
	in.mu.Lock()
	in.running = v
	if !v {
		in.ticks = 0
	}
	in.mu.Unlock()
}

func (in *Intake) Running() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.running
}

func (in *Intake) Holding() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.holding
}

func (in *Intake) Shot() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.shot
}

// Eject releases the held piece and reports whether there was one.
func (in *Intake) Eject() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.holding {
		return false
	}
	in.holding = false
	in.shot++
	return true
}

func (in *Intake) periodic() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.running || in.holding {
		return
	}
	in.ticks++
	if in.ticks >= in.pickupIn {
		in.holding = true
		in.ticks = 0
	}
}

// Controls are the simulated driver buttons.
type Controls struct {
	mu     sync.Mutex
	intake bool
	shoot  bool
}

func (c *Controls) SetIntake(v bool) {
	c.mu.Lock()
	c.intake = v
	c.mu.Unlock()
}

func (c *Controls) SetShoot(v bool) {
	c.mu.Lock()
	c.shoot = v
	c.mu.Unlock()
}

func (c *Controls) Intake() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intake
}

func (c *Controls) Shoot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shoot
}

// Robot wires the simulated subsystems together.
type Robot struct {
	Drive    *Drivetrain
	Intake   *Intake
	Controls *Controls

	log logx.Logger
}

func New(log logx.Logger) *Robot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Robot{
		Drive:    &Drivetrain{},
		Intake:   &Intake{pickupIn: 5},
		Controls: &Controls{},
		log:      log.With(logx.String("comp", "sim")),
	}
}

// Register adds both subsystems to m with manager-assigned SUIDs. The
// drivetrain idles with motors stopped; the intake idles off.
func (r *Robot) Register(m *scheduler.Manager) error {
	suid, err := m.Register(r.Drive.periodic, command.WithName(command.RunOnly(r.Drive.Stop), "drive idle"))
	if err != nil {
		return fmt.Errorf("register drivetrain: %w", err)
	}
	r.Drive.suid = suid

	suid, err = m.Register(r.Intake.periodic, command.WithName(command.StartOnly(func() { r.Intake.SetRunning(false) }), "intake idle"))
	if err != nil {
		return fmt.Errorf("register intake: %w", err)
	}
	r.Intake.suid = suid
	r.log.Info("subsystems registered",
		logx.Int("drive", int(r.Drive.suid)),
		logx.Int("intake", int(r.Intake.suid)))
	return nil
}

// DriveDistance drives straight at speed until meters more have been covered.
func (r *Robot) DriveDistance(meters, speed float64) command.Command {
	var target float64
	return command.WithName(command.NewBuilder().
		OnInit(func() { target = r.Drive.Distance() + meters }).
		OnPeriodic(func() { r.Drive.Set(speed, speed) }).
		OnEnd(func(bool) { r.Drive.Stop() }).
		Until(func() bool { return r.Drive.Distance() >= target }).
		Requires(r.Drive.suid).
		Build(), fmt.Sprintf("drive %.2fm", meters))
}

// Turn spins in place until the heading changed by radians.
func (r *Robot) Turn(radians float64) command.Command {
	var target float64
	dir := math.Copysign(1, radians)
	return command.WithName(command.NewBuilder().
		OnInit(func() { target = r.Drive.Heading() + radians }).
		OnPeriodic(func() { r.Drive.Set(-0.5*dir, 0.5*dir) }).
		OnEnd(func(bool) { r.Drive.Stop() }).
		Until(func() bool { return (r.Drive.Heading()-target)*dir >= 0 }).
		Requires(r.Drive.suid).
		Build(), fmt.Sprintf("turn %.2frad", radians))
}

// RunIntake runs the intake until a piece is held.
func (r *Robot) RunIntake() command.Command {
	return command.WithName(command.NewBuilder().
		OnInit(func() { r.Intake.SetRunning(true) }).
		OnEnd(func(bool) { r.Intake.SetRunning(false) }).
		Until(r.Intake.Holding).
		Requires(r.Intake.suid).
		Build(), "intake")
}

// HoldIntake runs the intake until interrupted.
func (r *Robot) HoldIntake() command.Command {
	return command.WithName(command.StartEnd(
		func() { r.Intake.SetRunning(true) },
		func(bool) { r.Intake.SetRunning(false) },
		r.Intake.suid), "hold intake")
}

// Shoot spins up briefly, then ejects the held piece.
func (r *Robot) Shoot() command.Command {
	eject := once(func() {
		if r.Intake.Eject() {
			r.log.Info("piece shot", logx.Int("total", r.Intake.Shot()))
		}
	}, r.Intake.suid)
	return command.WithName(command.Before(command.WaitFor(100*time.Millisecond), eject), "shoot")
}

// Autonomous drives out, turns around, drives back while intaking, then shoots.
func (r *Robot) Autonomous() command.Command {
	return command.WithName(command.AndThenMany(
		r.DriveDistance(1.0, 1.0),
		r.Turn(math.Pi),
		command.AlongWith(r.DriveDistance(1.0, 1.0), r.RunIntake()),
		r.Shoot(),
	), "autonomous")
}

// Factories lists the commands available to background triggers.
func (r *Robot) Factories() map[string]scheduler.Factory {
	return map[string]scheduler.Factory{
		"autonomous": r.Autonomous,
		"drive":      func() command.Command { return r.DriveDistance(0.5, 0.5) },
		"turn":       func() command.Command { return r.Turn(math.Pi / 2) },
		"intake":     r.RunIntake,
		"shoot":      r.Shoot,
		"press_intake": func() command.Command {
			return command.WithName(once(func() { r.Controls.SetIntake(!r.Controls.Intake()) }), "toggle intake button")
		},
		"press_shoot": func() command.Command {
			return command.WithName(command.AndThenMany(
				once(func() { r.Controls.SetShoot(true) }),
				command.WaitFor(60*time.Millisecond),
				once(func() { r.Controls.SetShoot(false) }),
			), "tap shoot button")
		},
	}
}

// Bindings maps driver buttons to commands: the intake runs while its
// button is held and no piece is loaded, and the shooter fires once per
// press. Both need the intake, so the intake binding must release it once a
// piece is held or it would displace every shot.
func (r *Robot) Bindings() *scheduler.ConditionalScheduler {
	cs := scheduler.NewConditionalScheduler()
	cs.AddCond(condition.WhileTrue(r.wantsPiece), r.HoldIntake)
	cs.AddCond(condition.OnTrue(r.Controls.Shoot), r.Shoot)
	return cs
}

func (r *Robot) wantsPiece() bool {
	return r.Controls.Intake() && !r.Intake.Holding()
}

// once runs fn on init and finishes on its first tick.
func once(fn func(), reqs ...scheduler.SUID) *command.Simple {
	return command.StartRunUntil(fn, func() bool { return true }, reqs...)
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
