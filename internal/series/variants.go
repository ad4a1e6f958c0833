package series

import (
	"fmt"
	"strconv"
)

// Latest is the most recent value of a field within the time range.
type Latest struct{ fieldSpec }

// LatestBuilder stages a Latest.
type LatestBuilder struct{ b fieldBuilder }

// NewLatest starts a Latest builder.
func NewLatest() *LatestBuilder { return &LatestBuilder{} }

func (lb *LatestBuilder) ID(id string) *LatestBuilder {
	lb.b.id = &id
	return lb
}

func (lb *LatestBuilder) Field(field string) *LatestBuilder {
	lb.b.field = &field
	return lb
}

// Build validates and returns the immutable spec.
func (lb *LatestBuilder) Build() (Latest, error) {
	s, err := lb.b.finalize(TypeLatest, true)
	return Latest{s}, err
}

// Count is the number of matched documents, or of documents carrying Field
// when one is set.
type Count struct{ fieldSpec }

// CountBuilder stages a Count.
type CountBuilder struct{ b fieldBuilder }

func NewCount() *CountBuilder { return &CountBuilder{} }

func (cb *CountBuilder) ID(id string) *CountBuilder {
	cb.b.id = &id
	return cb
}

func (cb *CountBuilder) Field(field string) *CountBuilder {
	cb.b.field = &field
	return cb
}

func (cb *CountBuilder) Build() (Count, error) {
	s, err := cb.b.finalize(TypeCount, false)
	return Count{s}, err
}

// Sum adds up the numeric values of a field.
type Sum struct{ fieldSpec }

type SumBuilder struct{ b fieldBuilder }

func NewSum() *SumBuilder { return &SumBuilder{} }

func (sb *SumBuilder) ID(id string) *SumBuilder {
	sb.b.id = &id
	return sb
}

func (sb *SumBuilder) Field(field string) *SumBuilder {
	sb.b.field = &field
	return sb
}

func (sb *SumBuilder) Build() (Sum, error) {
	s, err := sb.b.finalize(TypeSum, true)
	return Sum{s}, err
}

// Avg is the arithmetic mean of a numeric field.
type Avg struct{ fieldSpec }

type AvgBuilder struct{ b fieldBuilder }

func NewAvg() *AvgBuilder { return &AvgBuilder{} }

func (ab *AvgBuilder) ID(id string) *AvgBuilder {
	ab.b.id = &id
	return ab
}

func (ab *AvgBuilder) Field(field string) *AvgBuilder {
	ab.b.field = &field
	return ab
}

func (ab *AvgBuilder) Build() (Avg, error) {
	s, err := ab.b.finalize(TypeAvg, true)
	return Avg{s}, err
}

// Min is the smallest value of a numeric field.
type Min struct{ fieldSpec }

type MinBuilder struct{ b fieldBuilder }

func NewMin() *MinBuilder { return &MinBuilder{} }

func (mb *MinBuilder) ID(id string) *MinBuilder {
	mb.b.id = &id
	return mb
}

func (mb *MinBuilder) Field(field string) *MinBuilder {
	mb.b.field = &field
	return mb
}

func (mb *MinBuilder) Build() (Min, error) {
	s, err := mb.b.finalize(TypeMin, true)
	return Min{s}, err
}

// Max is the largest value of a numeric field.
type Max struct{ fieldSpec }

type MaxBuilder struct{ b fieldBuilder }

func NewMax() *MaxBuilder { return &MaxBuilder{} }

func (mb *MaxBuilder) ID(id string) *MaxBuilder {
	mb.b.id = &id
	return mb
}

func (mb *MaxBuilder) Field(field string) *MaxBuilder {
	mb.b.field = &field
	return mb
}

func (mb *MaxBuilder) Build() (Max, error) {
	s, err := mb.b.finalize(TypeMax, true)
	return Max{s}, err
}

// Card is the number of distinct values of a field.
type Card struct{ fieldSpec }

type CardBuilder struct{ b fieldBuilder }

func NewCard() *CardBuilder { return &CardBuilder{} }

func (cb *CardBuilder) ID(id string) *CardBuilder {
	cb.b.id = &id
	return cb
}

func (cb *CardBuilder) Field(field string) *CardBuilder {
	cb.b.field = &field
	return cb
}

func (cb *CardBuilder) Build() (Card, error) {
	s, err := cb.b.finalize(TypeCard, true)
	return Card{s}, err
}

// StdDev is the population standard deviation of a numeric field.
type StdDev struct{ fieldSpec }

type StdDevBuilder struct{ b fieldBuilder }

func NewStdDev() *StdDevBuilder { return &StdDevBuilder{} }

func (sb *StdDevBuilder) ID(id string) *StdDevBuilder {
	sb.b.id = &id
	return sb
}

func (sb *StdDevBuilder) Field(field string) *StdDevBuilder {
	sb.b.field = &field
	return sb
}

func (sb *StdDevBuilder) Build() (StdDev, error) {
	s, err := sb.b.finalize(TypeStdDev, true)
	return StdDev{s}, err
}

// Percentile is the value below which the given percentage of a numeric
// field's values fall.
type Percentile struct {
	fieldSpec
	percentile float64
}

// Percentile returns the requested percentage in (0, 100].
func (p Percentile) Percentile() float64 { return p.percentile }

// Fraction returns the percentile as a fraction in (0, 1].
func (p Percentile) Fraction() float64 { return p.percentile / 100 }

type PercentileBuilder struct {
	b          fieldBuilder
	percentile *float64
}

func NewPercentile() *PercentileBuilder { return &PercentileBuilder{} }

func (pb *PercentileBuilder) ID(id string) *PercentileBuilder {
	pb.b.id = &id
	return pb
}

func (pb *PercentileBuilder) Field(field string) *PercentileBuilder {
	pb.b.field = &field
	return pb
}

func (pb *PercentileBuilder) Percentile(p float64) *PercentileBuilder {
	pb.percentile = &p
	return pb
}

func (pb *PercentileBuilder) Build() (Percentile, error) {
	if pb.percentile == nil {
		return Percentile{}, &BuildError{Type: TypePercentile, Missing: "percentile"}
	}
	if *pb.percentile <= 0 || *pb.percentile > 100 {
		return Percentile{}, &BuildError{
			Type:    TypePercentile,
			Missing: "percentile",
			Reason:  fmt.Sprintf("%s is outside (0, 100]", strconv.FormatFloat(*pb.percentile, 'f', -1, 64)),
		}
	}
	s, err := pb.b.finalize(TypePercentile, true)
	if err != nil {
		return Percentile{}, err
	}
	return Percentile{fieldSpec: s, percentile: *pb.percentile}, nil
}
