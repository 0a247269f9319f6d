package coefficient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knowledge(v float64) *float64 { return &v }

func uniform(r Rating, sk float64) Answers {
	return Answers{
		Analysis:         r,
		Experience:       r,
		NationalAuthors:  r,
		ForeignAuthors:   r,
		ForeignKnowledge: r,
		Intuition:        r,
		SubjectKnowledge: knowledge(sk),
	}
}

func TestComputeKnownValues(t *testing.T) {
	cases := []struct {
		name    string
		answers Answers
		want    float64
	}{
		{name: "all high full knowledge", answers: uniform(High, 10), want: 93.33},
		{name: "all low no knowledge", answers: uniform(Low, 0), want: 30.00},
		{name: "all medium half knowledge", answers: uniform(Medium, 5), want: 61.67},
		{
			name: "mixed",
			answers: Answers{
				Analysis:         High,
				Experience:       Medium,
				NationalAuthors:  Low,
				ForeignAuthors:   High,
				ForeignKnowledge: Medium,
				Intuition:        Low,
				SubjectKnowledge: knowledge(8),
			},
			want: 67.67,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compute(tc.answers)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 0.0001)
		})
	}
}

func TestComputeDefaultsMissingRatingsToMedium(t *testing.T) {
	explicit, err := Compute(uniform(Medium, 5))
	require.NoError(t, err)

	implicit, err := Compute(Answers{SubjectKnowledge: knowledge(5)})
	require.NoError(t, err)

	unknown, err := Compute(uniform(Rating("sometimes"), 5))
	require.NoError(t, err)

	assert.Equal(t, explicit, implicit)
	assert.Equal(t, explicit, unknown)
}

func TestComputeIsBoundedAndDeterministic(t *testing.T) {
	ratings := []Rating{High, Medium, Low, ""}
	for _, a := range ratings {
		for _, e := range ratings {
			for _, f := range ratings {
				for sk := -5.0; sk <= 15; sk += 2.5 {
					answers := Answers{
						Analysis:         a,
						Experience:       e,
						NationalAuthors:  f,
						ForeignAuthors:   a,
						ForeignKnowledge: e,
						Intuition:        f,
						SubjectKnowledge: knowledge(sk),
					}
					first, err := Compute(answers)
					require.NoError(t, err)
					second, err := Compute(answers)
					require.NoError(t, err)

					assert.Equal(t, first, second)
					assert.GreaterOrEqual(t, first, 30.0)
					assert.LessOrEqual(t, first, 93.33)
					assert.Equal(t, first, round2(first))
				}
			}
		}
	}
}

func TestComputeClampsSubjectKnowledge(t *testing.T) {
	over, err := Compute(uniform(High, 14))
	require.NoError(t, err)
	top, err := Compute(uniform(High, 10))
	require.NoError(t, err)
	assert.Equal(t, top, over)
}

func TestComputeUnconvertible(t *testing.T) {
	_, err := Compute(Answers{Analysis: High})
	assert.ErrorIs(t, err, ErrUnconvertible)
}

func TestCalculatorFailurePolicy(t *testing.T) {
	missing := Answers{Analysis: High}

	soft, err := Calculator{FailSoft: true}.Evaluate(missing)
	require.NoError(t, err)
	assert.True(t, soft.FellBack)
	assert.Equal(t, 0.0, soft.K)
	assert.ErrorIs(t, soft.Cause, ErrUnconvertible)

	_, err = Calculator{FailSoft: false}.Evaluate(missing)
	assert.ErrorIs(t, err, ErrUnconvertible)

	ok, err := Calculator{}.Evaluate(uniform(High, 10))
	require.NoError(t, err)
	assert.False(t, ok.FellBack)
	assert.Equal(t, 93.33, ok.K)
}

func TestParseRating(t *testing.T) {
	assert.Equal(t, High, ParseRating("A"))
	assert.Equal(t, Medium, ParseRating(" m "))
	assert.Equal(t, Low, ParseRating("baja"))
	assert.Equal(t, High, ParseRating("high"))
	assert.Equal(t, Rating(""), ParseRating("x"))
	assert.Equal(t, Medium, Normalize("x"))
	assert.Equal(t, "B", Low.Letter())
	assert.Equal(t, "M", Rating("").Letter())
}
