package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// Run summarises one mission execution.
type Run struct {
	ID         string     `json:"run_id"`
	Mission    string     `json:"mission"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	FinalState string     `json:"final_state,omitempty"`
	TickCount  uint64     `json:"tick_count"`
	Fault      string     `json:"fault,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// TickRecord is one published setpoint and the position the vehicle
// reported on that tick.
type TickRecord struct {
	Tick  uint64 `json:"tick"`
	State string `json:"state"`
	Mode  string `json:"mode"`
	Frame string `json:"frame"`

	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	VX  float64 `json:"vx"`
	VY  float64 `json:"vy"`
	VZ  float64 `json:"vz"`
	Yaw float64 `json:"yaw"`

	Drop bool `json:"drop"`

	HasPosition bool    `json:"has_position"`
	PosX        float64 `json:"pos_x"`
	PosY        float64 `json:"pos_y"`
	PosZ        float64 `json:"pos_z"`
}

// TransitionRecord is one state change.
type TransitionRecord struct {
	Tick   uint64 `json:"tick"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// FaultRecord is one fault that forced the vehicle into abort.
type FaultRecord struct {
	Tick    uint64 `json:"tick"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// StartRun creates a run row and returns its id.
func (db *DB) StartRun(mission string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO runs (run_id, mission, started_at) VALUES (?, ?, ?)`,
		id, mission, at.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// FinishRun records the final state of a run.
func (db *DB) FinishRun(runID string, at time.Time, finalState string, ticks uint64, fault error) error {
	var faultText sql.NullString
	if fault != nil {
		faultText = sql.NullString{String: fault.Error(), Valid: true}
	}
	res, err := db.Exec(`UPDATE runs SET finished_at = ?, final_state = ?, tick_count = ?, fault = ? WHERE run_id = ?`,
		at.UnixNano(), finalState, ticks, faultText, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// SetNotes replaces the free-form notes on a run.
func (db *DB) SetNotes(runID, notes string) error {
	res, err := db.Exec(`UPDATE runs SET notes = ? WHERE run_id = ?`, notes, runID)
	if err != nil {
		return fmt.Errorf("failed to set notes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func (db *DB) RecordTick(runID string, r TickRecord) error {
	_, err := db.Exec(`INSERT INTO ticks (
			run_id, tick, state, mode, frame,
			sp_x, sp_y, sp_z, sp_vx, sp_vy, sp_vz, sp_yaw,
			drop_signal, has_pos, pos_x, pos_y, pos_z
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Tick, r.State, r.Mode, r.Frame,
		r.X, r.Y, r.Z, r.VX, r.VY, r.VZ, r.Yaw,
		r.Drop, r.HasPosition, r.PosX, r.PosY, r.PosZ,
	)
	if err != nil {
		return fmt.Errorf("failed to record tick %d: %w", r.Tick, err)
	}
	return nil
}

func (db *DB) RecordTransition(runID string, r TransitionRecord) error {
	_, err := db.Exec(`INSERT INTO transitions (run_id, tick, from_state, to_state, reason) VALUES (?, ?, ?, ?, ?)`,
		runID, r.Tick, r.From, r.To, r.Reason)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

func (db *DB) RecordFault(runID string, r FaultRecord) error {
	_, err := db.Exec(`INSERT INTO faults (run_id, tick, state, message) VALUES (?, ?, ?, ?)`,
		runID, r.Tick, r.State, r.Message)
	if err != nil {
		return fmt.Errorf("failed to record fault: %w", err)
	}
	return nil
}

// Run loads a single run.
func (db *DB) Run(runID string) (Run, error) {
	row := db.QueryRow(`SELECT run_id, mission, started_at, finished_at, final_state, tick_count, fault, notes
		FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// Runs lists the most recent runs first.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT run_id, mission, started_at, finished_at, final_state, tick_count, fault, notes
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r          Run
		startedAt  int64
		finishedAt sql.NullInt64
		finalState sql.NullString
		fault      sql.NullString
	)
	if err := s.Scan(&r.ID, &r.Mission, &startedAt, &finishedAt, &finalState, &r.TickCount, &fault, &r.Notes); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(0, startedAt)
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64)
		r.FinishedAt = &t
	}
	r.FinalState = finalState.String
	r.Fault = fault.String
	return r, nil
}

// Ticks returns every tick of a run in order.
func (db *DB) Ticks(runID string) ([]TickRecord, error) {
	rows, err := db.Query(`SELECT tick, state, mode, frame,
			sp_x, sp_y, sp_z, sp_vx, sp_vy, sp_vz, sp_yaw,
			drop_signal, has_pos, pos_x, pos_y, pos_z
		FROM ticks WHERE run_id = ? ORDER BY tick`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []TickRecord
	for rows.Next() {
		var r TickRecord
		if err := rows.Scan(&r.Tick, &r.State, &r.Mode, &r.Frame,
			&r.X, &r.Y, &r.Z, &r.VX, &r.VY, &r.VZ, &r.Yaw,
			&r.Drop, &r.HasPosition, &r.PosX, &r.PosY, &r.PosZ); err != nil {
			return nil, err
		}
		ticks = append(ticks, r)
	}
	return ticks, rows.Err()
}

// Transitions returns the state changes of a run in order.
func (db *DB) Transitions(runID string) ([]TransitionRecord, error) {
	rows, err := db.Query(`SELECT tick, from_state, to_state, reason
		FROM transitions WHERE run_id = ? ORDER BY tick, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var (
			r      TransitionRecord
			reason sql.NullString
		)
		if err := rows.Scan(&r.Tick, &r.From, &r.To, &reason); err != nil {
			return nil, err
		}
		r.Reason = reason.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Faults returns the faults recorded for a run.
func (db *DB) Faults(runID string) ([]FaultRecord, error) {
	rows, err := db.Query(`SELECT tick, state, message FROM faults WHERE run_id = ? ORDER BY tick, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FaultRecord
	for rows.Next() {
		var r FaultRecord
		if err := rows.Scan(&r.Tick, &r.State, &r.Message); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
