package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
)

type silverState struct {
	bronze      domain.BronzePartition
	fingerprint string
	unchanged   bool
	result      domain.SilverResult
}

// runSilver reads one Bronze year, transforms it and publishes its monthly
// Silver partitions. The records are returned for the Gold stage.
func (r *Runner) runSilver(ctx context.Context, runID string, year int) (rep PartitionReport, records []domain.CleanObservationRecord) {
	start := r.clock.Now()
	rep = newReport(domain.DatasetSilver, year)
	defer func() {
		if p := recover(); p != nil {
			rep, records = r.fail(rep, StepTransform, fmt.Errorf("panic: %v", p)), nil
		}
		rep.Duration = r.clock.Since(start)
		r.finish(rep)
	}()

	read := Then(Start(year), StepRead, func(y int) (silverState, error) {
		if err := ctx.Err(); err != nil {
			return silverState{}, err
		}
		p, err := r.bronze.ReadBronze(ctx, y)
		return silverState{bronze: p}, err
	})
	checked := Then(read, StepCheckpoint, func(s silverState) (silverState, error) {
		s.fingerprint = domain.FingerprintBronze(s.bronze)
		s.unchanged = r.unchanged(ctx, rep.Key, s.fingerprint)
		return s, nil
	})
	transformed := Then(checked, StepTransform, func(s silverState) (silverState, error) {
		if s.unchanged {
			return s, nil
		}
		res, err := r.silver.Transform(s.bronze)
		s.result = res
		return s, err
	})
	written := Then(transformed, StepWrite, func(s silverState) (silverState, error) {
		if s.unchanged {
			return s, nil
		}
		if err := ctx.Err(); err != nil {
			return s, err
		}
		return s, r.lake.WriteSilver(ctx, year, s.result.Partitions)
	})

	s, step, err := written.Unwrap()
	if err != nil {
		return r.fail(rep, step, err), nil
	}
	rep.RecordsIn = len(s.bronze.Records)
	if s.unchanged {
		rep.Outcome, rep.Reason = OutcomeSkipped, "unchanged"
		return rep, nil
	}

	stats := s.result.Stats
	rep.Outcome = OutcomeSuccess
	rep.RecordsOut = len(s.result.Records)
	rep.Silver = &stats
	for _, p := range s.result.Partitions {
		rep.Partitions = append(rep.Partitions, p.Key.String())
	}

	r.record(ctx, rep.Key, s.fingerprint)
	r.notify(ctx, domain.NewSilverNotice(runID, year, s.result.Partitions, s.fingerprint))
	return rep, s.result.Records
}

type goldState struct {
	records     []domain.CleanObservationRecord
	carry       []domain.CleanObservationRecord
	fingerprint string
	unchanged   bool
	result      domain.GoldResult
}

// runGold aggregates one Silver year into daily municipality partitions,
// together with the hours of its last local day that Silver stores in the
// next year's January.
func (r *Runner) runGold(ctx context.Context, runID string, year int, fresh []domain.CleanObservationRecord, haveFresh bool) (rep PartitionReport) {
	start := r.clock.Now()
	rep = newReport(domain.DatasetGold, year)
	defer func() {
		if p := recover(); p != nil {
			rep = r.fail(rep, StepTransform, fmt.Errorf("panic: %v", p))
		}
		rep.Duration = r.clock.Since(start)
		r.finish(rep)
	}()

	read := Then(Start(year), StepRead, func(y int) (goldState, error) {
		if err := ctx.Err(); err != nil {
			return goldState{}, err
		}
		s := goldState{records: fresh}
		if !haveFresh {
			records, err := r.lake.ReadSilver(ctx, y)
			if err != nil {
				return goldState{}, err
			}
			s.records = records
		}
		following, err := r.lake.ReadSilverMonth(ctx, domain.SilverPartitionKey{Year: y + 1, Month: time.January})
		if err != nil && !errors.Is(err, domain.ErrNoInput) {
			return goldState{}, fmt.Errorf("read following january: %w", err)
		}
		s.carry = r.gold.Carryover(y, following)
		return s, nil
	})
	checked := Then(read, StepCheckpoint, func(s goldState) (goldState, error) {
		s.fingerprint = domain.FingerprintSilver(year, slices.Concat(s.records, s.carry))
		s.unchanged = r.unchanged(ctx, rep.Key, s.fingerprint)
		return s, nil
	})
	transformed := Then(checked, StepTransform, func(s goldState) (goldState, error) {
		if !s.unchanged {
			s.result = r.gold.Transform(year, s.records, s.carry)
		}
		return s, nil
	})
	written := Then(transformed, StepWrite, func(s goldState) (goldState, error) {
		if s.unchanged {
			return s, nil
		}
		if err := ctx.Err(); err != nil {
			return s, err
		}
		return s, r.lake.WriteGold(ctx, year, s.result.Partitions)
	})

	s, step, err := written.Unwrap()
	if err != nil {
		return r.fail(rep, step, err)
	}
	rep.RecordsIn = len(s.records) + len(s.carry)
	if s.unchanged {
		rep.Outcome, rep.Reason = OutcomeSkipped, "unchanged"
		return rep
	}

	stats := s.result.Stats
	rep.Outcome = OutcomeSuccess
	rep.RecordsOut = len(s.result.Records)
	rep.Gold = &stats
	for _, p := range s.result.Partitions {
		rep.Partitions = append(rep.Partitions, p.Key.String())
	}

	r.record(ctx, rep.Key, s.fingerprint)
	r.notify(ctx, domain.NewGoldNotice(runID, year, s.result.Partitions, s.fingerprint))
	return rep
}

