package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Loop constants - these never change at runtime
const (
	// Simulation
	StepRate      = 60 // Hz
	FixedTimestep = 1.0 / float64(StepRate)
	MaxFrameDelta = 0.25 // seconds, caps catch-up after stalls
	Gravity       = -9.81

	// Network
	SnapshotRate      = 20 // Hz
	SnapshotInterval  = 1.0 / float64(SnapshotRate)
	SnapshotQueueSize = 64

	// Sessions
	MaxSessions     = 50
	SessionIdleTime = 2 * time.Minute

	// Input validation
	MaxInputsPerStep = 3
	MaxViolations    = 50
)

// EnvPrefix is prepended to every tuning key when reading overrides from the environment,
// e.g. DRIFT_VEHICLE_MAXSPEED.
const EnvPrefix = "DRIFT"

// Vec3 is a plain triple used for extents in config files.
type Vec3 struct {
	X float64 `mapstructure:"x"`
	Y float64 `mapstructure:"y"`
	Z float64 `mapstructure:"z"`
}

// Vehicle tunes the player car and its grip model.
type Vehicle struct {
	Mass                float64 `mapstructure:"mass"`
	HalfExtents         Vec3    `mapstructure:"halfextents"`
	Acceleration        float64 `mapstructure:"acceleration"`
	MaxSpeed            float64 `mapstructure:"maxspeed"`
	ReverseFactor       float64 `mapstructure:"reversefactor"`
	TurnSpeed           float64 `mapstructure:"turnspeed"`
	SteerResponse       float64 `mapstructure:"steerresponse"`
	SteerMinSpeed       float64 `mapstructure:"steerminspeed"`
	MinSteerFactor      float64 `mapstructure:"minsteerfactor"`
	HandbrakeSteerBoost float64 `mapstructure:"handbrakesteerboost"`
	MaxGrip             float64 `mapstructure:"maxgrip"`
	BaseGrip            float64 `mapstructure:"basegrip"`
	DriftThreshold      float64 `mapstructure:"driftthreshold"`
	DriftGripFactor     float64 `mapstructure:"driftgripfactor"`
	HandbrakeGripFactor float64 `mapstructure:"handbrakegripfactor"`
	LinearDamping       float64 `mapstructure:"lineardamping"`
	AngularDamping      float64 `mapstructure:"angulardamping"`
	ExplodeMinSpeed     float64 `mapstructure:"explodeminspeed"`
	RespawnDelay        float64 `mapstructure:"respawndelay"` // seconds of simulated time
	DebrisCount         int     `mapstructure:"debriscount"`
	DebrisTTL           float64 `mapstructure:"debristtl"`
	DebrisSpeed         float64 `mapstructure:"debrisspeed"`
}

// Road tunes the procedural road walk and streaming window.
type Road struct {
	StepLength         float64 `mapstructure:"steplength"`
	HeadingJitter      float64 `mapstructure:"headingjitter"`
	MaxHeading         float64 `mapstructure:"maxheading"`
	CurveScale         float64 `mapstructure:"curvescale"`
	BatchSize          int     `mapstructure:"batchsize"`
	Subdivisions       int     `mapstructure:"subdivisions"`
	SegmentThreshold   int     `mapstructure:"segmentthreshold"`
	Lookahead          float64 `mapstructure:"lookahead"`
	MaxExtendsPerFrame int     `mapstructure:"maxextendsperframe"`
	HalfWidth          float64 `mapstructure:"halfwidth"`
	CellSize           float64 `mapstructure:"cellsize"`
}

// Traffic tunes NPC spawning, cruising and launches.
type Traffic struct {
	MaxNPCs            int     `mapstructure:"maxnpcs"`
	SpawnInterval      float64 `mapstructure:"spawninterval"`
	SpawnAhead         float64 `mapstructure:"spawnahead"`
	MaxCluster         int     `mapstructure:"maxcluster"`
	ClusterSpacing     float64 `mapstructure:"clusterspacing"`
	LaneMargin         float64 `mapstructure:"lanemargin"`
	MinLongitudinalGap float64 `mapstructure:"minlongitudinalgap"`
	MinLateralGap      float64 `mapstructure:"minlateralgap"`
	MinSpeed           float64 `mapstructure:"minspeed"`
	MaxSpeed           float64 `mapstructure:"maxspeed"`
	Mass               float64 `mapstructure:"mass"`
	HalfExtents        Vec3    `mapstructure:"halfextents"`
	FlightDuration     float64 `mapstructure:"flightduration"`
	FallBound          float64 `mapstructure:"fallbound"`
	CeilingBound       float64 `mapstructure:"ceilingbound"`
	MaxLifetime        float64 `mapstructure:"maxlifetime"`
	LaunchUpSpeed      float64 `mapstructure:"launchupspeed"`
	LaunchSideSpeed    float64 `mapstructure:"launchsidespeed"`
	LaunchSpin         float64 `mapstructure:"launchspin"`
	LaunchScore        int     `mapstructure:"launchscore"`
}

// Props tunes coins, fences, trees and the despawn window shared by all entities.
type Props struct {
	CoinChance    float64 `mapstructure:"coinchance"`
	CoinRadius    float64 `mapstructure:"coinradius"`
	CoinScore     int     `mapstructure:"coinscore"`
	FenceHeight   float64 `mapstructure:"fenceheight"`
	TreeChance    float64 `mapstructure:"treechance"`
	TreeMinOffset float64 `mapstructure:"treeminoffset"`
	TreeMaxOffset float64 `mapstructure:"treemaxoffset"`
	TreeHalfWidth float64 `mapstructure:"treehalfwidth"`
	TreeHeight    float64 `mapstructure:"treeheight"`
	DespawnBehind float64 `mapstructure:"despawnbehind"`
	DespawnAhead  float64 `mapstructure:"despawnahead"`
}

// Physics tunes the reference rigid-body world.
type Physics struct {
	BroadphaseCell float64 `mapstructure:"broadphasecell"`
	Friction       float64 `mapstructure:"friction"`
	Restitution    float64 `mapstructure:"restitution"`
}

// Tuning groups every adjustable gameplay constant.
type Tuning struct {
	Seed    uint64  `mapstructure:"seed"`
	Vehicle Vehicle `mapstructure:"vehicle"`
	Road    Road    `mapstructure:"road"`
	Traffic Traffic `mapstructure:"traffic"`
	Props   Props   `mapstructure:"props"`
	Physics Physics `mapstructure:"physics"`
}

// DefaultTuning returns the tuning the game ships with.
func DefaultTuning() Tuning {
	return Tuning{
		Seed: 1,
		Vehicle: Vehicle{
			Mass:                1000,
			HalfExtents:         Vec3{X: 0.9, Y: 0.5, Z: 2.0},
			Acceleration:        24,
			MaxSpeed:            60,
			ReverseFactor:       0.5,
			TurnSpeed:           2.5,
			SteerResponse:       10,
			SteerMinSpeed:       0.5,
			MinSteerFactor:      0.3,
			HandbrakeSteerBoost: 1.5,
			MaxGrip:             8,
			BaseGrip:            2,
			DriftThreshold:      0.25,
			DriftGripFactor:     0.5,
			HandbrakeGripFactor: 0.25,
			LinearDamping:       0.1,
			AngularDamping:      1.0,
			ExplodeMinSpeed:     6,
			RespawnDelay:        2,
			DebrisCount:         12,
			DebrisTTL:           3,
			DebrisSpeed:         8,
		},
		Road: Road{
			StepLength:         4,
			HeadingJitter:      0.08,
			MaxHeading:         0.6,
			CurveScale:         4,
			BatchSize:          6,
			Subdivisions:       2,
			SegmentThreshold:   8,
			Lookahead:          200,
			MaxExtendsPerFrame: 16,
			HalfWidth:          7,
			CellSize:           8,
		},
		Traffic: Traffic{
			MaxNPCs:            12,
			SpawnInterval:      40,
			SpawnAhead:         120,
			MaxCluster:         3,
			ClusterSpacing:     12,
			LaneMargin:         1.5,
			MinLongitudinalGap: 8,
			MinLateralGap:      2.5,
			MinSpeed:           8,
			MaxSpeed:           16,
			Mass:               800,
			HalfExtents:        Vec3{X: 0.9, Y: 0.6, Z: 2.0},
			FlightDuration:     3,
			FallBound:          20,
			CeilingBound:       80,
			MaxLifetime:        90,
			LaunchUpSpeed:      12,
			LaunchSideSpeed:    6,
			LaunchSpin:         4,
			LaunchScore:        100,
		},
		Props: Props{
			CoinChance:    0.35,
			CoinRadius:    2.5,
			CoinScore:     10,
			FenceHeight:   1,
			TreeChance:    0.3,
			TreeMinOffset: 10,
			TreeMaxOffset: 30,
			TreeHalfWidth: 0.6,
			TreeHeight:    4,
			DespawnBehind: 60,
			DespawnAhead:  400,
		},
		Physics: Physics{
			BroadphaseCell: 16,
			Friction:       0.5,
			Restitution:    0.2,
		},
	}
}

// Load reads tuning from an optional file and DRIFT_* environment variables.
// An empty path loads defaults plus environment overrides only.
func Load(path string) (Tuning, error) {
	v := viper.New()
	setDefaults(v, DefaultTuning())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Tuning{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var t Tuning
	if err := v.Unmarshal(&t); err != nil {
		return Tuning{}, fmt.Errorf("decode config: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// setDefaults registers every key so AutomaticEnv can see nested fields.
func setDefaults(v *viper.Viper, t Tuning) {
	v.SetDefault("seed", t.Seed)

	vh := t.Vehicle
	v.SetDefault("vehicle.mass", vh.Mass)
	v.SetDefault("vehicle.halfextents.x", vh.HalfExtents.X)
	v.SetDefault("vehicle.halfextents.y", vh.HalfExtents.Y)
	v.SetDefault("vehicle.halfextents.z", vh.HalfExtents.Z)
	v.SetDefault("vehicle.acceleration", vh.Acceleration)
	v.SetDefault("vehicle.maxspeed", vh.MaxSpeed)
	v.SetDefault("vehicle.reversefactor", vh.ReverseFactor)
	v.SetDefault("vehicle.turnspeed", vh.TurnSpeed)
	v.SetDefault("vehicle.steerresponse", vh.SteerResponse)
	v.SetDefault("vehicle.steerminspeed", vh.SteerMinSpeed)
	v.SetDefault("vehicle.minsteerfactor", vh.MinSteerFactor)
	v.SetDefault("vehicle.handbrakesteerboost", vh.HandbrakeSteerBoost)
	v.SetDefault("vehicle.maxgrip", vh.MaxGrip)
	v.SetDefault("vehicle.basegrip", vh.BaseGrip)
	v.SetDefault("vehicle.driftthreshold", vh.DriftThreshold)
	v.SetDefault("vehicle.driftgripfactor", vh.DriftGripFactor)
	v.SetDefault("vehicle.handbrakegripfactor", vh.HandbrakeGripFactor)
	v.SetDefault("vehicle.lineardamping", vh.LinearDamping)
	v.SetDefault("vehicle.angulardamping", vh.AngularDamping)
	v.SetDefault("vehicle.explodeminspeed", vh.ExplodeMinSpeed)
	v.SetDefault("vehicle.respawndelay", vh.RespawnDelay)
	v.SetDefault("vehicle.debriscount", vh.DebrisCount)
	v.SetDefault("vehicle.debristtl", vh.DebrisTTL)
	v.SetDefault("vehicle.debrisspeed", vh.DebrisSpeed)

	r := t.Road
	v.SetDefault("road.steplength", r.StepLength)
	v.SetDefault("road.headingjitter", r.HeadingJitter)
	v.SetDefault("road.maxheading", r.MaxHeading)
	v.SetDefault("road.curvescale", r.CurveScale)
	v.SetDefault("road.batchsize", r.BatchSize)
	v.SetDefault("road.subdivisions", r.Subdivisions)
	v.SetDefault("road.segmentthreshold", r.SegmentThreshold)
	v.SetDefault("road.lookahead", r.Lookahead)
	v.SetDefault("road.maxextendsperframe", r.MaxExtendsPerFrame)
	v.SetDefault("road.halfwidth", r.HalfWidth)
	v.SetDefault("road.cellsize", r.CellSize)

	tr := t.Traffic
	v.SetDefault("traffic.maxnpcs", tr.MaxNPCs)
	v.SetDefault("traffic.spawninterval", tr.SpawnInterval)
	v.SetDefault("traffic.spawnahead", tr.SpawnAhead)
	v.SetDefault("traffic.maxcluster", tr.MaxCluster)
	v.SetDefault("traffic.clusterspacing", tr.ClusterSpacing)
	v.SetDefault("traffic.lanemargin", tr.LaneMargin)
	v.SetDefault("traffic.minlongitudinalgap", tr.MinLongitudinalGap)
	v.SetDefault("traffic.minlateralgap", tr.MinLateralGap)
	v.SetDefault("traffic.minspeed", tr.MinSpeed)
	v.SetDefault("traffic.maxspeed", tr.MaxSpeed)
	v.SetDefault("traffic.mass", tr.Mass)
	v.SetDefault("traffic.halfextents.x", tr.HalfExtents.X)
	v.SetDefault("traffic.halfextents.y", tr.HalfExtents.Y)
	v.SetDefault("traffic.halfextents.z", tr.HalfExtents.Z)
	v.SetDefault("traffic.flightduration", tr.FlightDuration)
	v.SetDefault("traffic.fallbound", tr.FallBound)
	v.SetDefault("traffic.ceilingbound", tr.CeilingBound)
	v.SetDefault("traffic.maxlifetime", tr.MaxLifetime)
	v.SetDefault("traffic.launchupspeed", tr.LaunchUpSpeed)
	v.SetDefault("traffic.launchsidespeed", tr.LaunchSideSpeed)
	v.SetDefault("traffic.launchspin", tr.LaunchSpin)
	v.SetDefault("traffic.launchscore", tr.LaunchScore)

	p := t.Props
	v.SetDefault("props.coinchance", p.CoinChance)
	v.SetDefault("props.coinradius", p.CoinRadius)
	v.SetDefault("props.coinscore", p.CoinScore)
	v.SetDefault("props.fenceheight", p.FenceHeight)
	v.SetDefault("props.treechance", p.TreeChance)
	v.SetDefault("props.treeminoffset", p.TreeMinOffset)
	v.SetDefault("props.treemaxoffset", p.TreeMaxOffset)
	v.SetDefault("props.treehalfwidth", p.TreeHalfWidth)
	v.SetDefault("props.treeheight", p.TreeHeight)
	v.SetDefault("props.despawnbehind", p.DespawnBehind)
	v.SetDefault("props.despawnahead", p.DespawnAhead)

	ph := t.Physics
	v.SetDefault("physics.broadphasecell", ph.BroadphaseCell)
	v.SetDefault("physics.friction", ph.Friction)
	v.SetDefault("physics.restitution", ph.Restitution)
}

// Validate rejects tunings the simulation cannot run with.
func (t Tuning) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	vh := t.Vehicle
	check(vh.Mass > 0, "vehicle.mass must be positive, got %v", vh.Mass)
	check(vh.MaxSpeed > 0, "vehicle.maxspeed must be positive, got %v", vh.MaxSpeed)
	check(vh.BaseGrip >= 0 && vh.BaseGrip <= vh.MaxGrip,
		"vehicle.basegrip must be within [0, maxgrip], got %v (maxgrip %v)", vh.BaseGrip, vh.MaxGrip)
	check(vh.MinSteerFactor >= 0 && vh.MinSteerFactor <= 1,
		"vehicle.minsteerfactor must be within [0, 1], got %v", vh.MinSteerFactor)
	check(vh.DriftGripFactor > 0 && vh.DriftGripFactor <= 1,
		"vehicle.driftgripfactor must be within (0, 1], got %v", vh.DriftGripFactor)
	check(vh.HandbrakeGripFactor > 0 && vh.HandbrakeGripFactor <= 1,
		"vehicle.handbrakegripfactor must be within (0, 1], got %v", vh.HandbrakeGripFactor)
	check(vh.DebrisCount >= 0, "vehicle.debriscount must not be negative")
	check(vh.DebrisTTL > 0, "vehicle.debristtl must be positive")
	check(vh.RespawnDelay > 0, "vehicle.respawndelay must be positive")

	r := t.Road
	check(r.StepLength > 0, "road.steplength must be positive, got %v", r.StepLength)
	check(r.BatchSize > 0, "road.batchsize must be positive, got %v", r.BatchSize)
	check(r.Subdivisions >= 0, "road.subdivisions must not be negative")
	check(r.SegmentThreshold > 0, "road.segmentthreshold must be positive")
	check(r.MaxExtendsPerFrame > 0, "road.maxextendsperframe must be positive")
	check(r.CellSize > 0, "road.cellsize must be positive")
	check(r.HalfWidth > t.Traffic.LaneMargin, "road.halfwidth must exceed traffic.lanemargin")

	tr := t.Traffic
	check(tr.MaxNPCs >= 0, "traffic.maxnpcs must not be negative")
	check(tr.MaxCluster >= 1, "traffic.maxcluster must be at least 1")
	check(tr.SpawnInterval > 0, "traffic.spawninterval must be positive")
	check(tr.MinSpeed >= 0 && tr.MinSpeed <= tr.MaxSpeed, "traffic.minspeed must be within [0, maxspeed]")
	check(tr.FlightDuration > 0, "traffic.flightduration must be positive")
	check(tr.Mass > 0, "traffic.mass must be positive")

	p := t.Props
	check(p.DespawnBehind > 0, "props.despawnbehind must be positive")
	check(p.TreeMinOffset <= p.TreeMaxOffset, "props.treeminoffset must not exceed props.treemaxoffset")

	check(t.Physics.BroadphaseCell > 0, "physics.broadphasecell must be positive")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// ServerConfig holds the host process settings.
type ServerConfig struct {
	Host       string
	Port       int
	EnableCORS bool
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:       "0.0.0.0",
		Port:       8080,
		EnableCORS: true,
	}
}
