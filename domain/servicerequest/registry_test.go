package servicerequest

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"labledger/domain/chain"
	"labledger/domain/ledgererr"
)

const (
	country  = "Indonesia"
	city     = "Jakarta"
	category = "Whole Genome Sequencing"
)

var (
	requester = chain.MustAddress("0x1100000000000000000000000000000000000011")
	lab       = chain.MustAddress("0x1a00000000000000000000000000000000000001")
	otherLab  = chain.MustAddress("0x1a00000000000000000000000000000000000002")
)

func create(t *testing.T, g *Registry) Request {
	t.Helper()
	r, err := g.PlanCreate(requester, country, city, category, big.NewInt(20))
	require.NoError(t, err)
	g.Apply(r)
	return r
}

func validate(t *testing.T, g *Registry, l chain.Address, cat string) {
	t.Helper()
	v, err := g.PlanValidation(l, cat, "service-1")
	require.NoError(t, err)
	g.ApplyValidation(v)
}

func TestIdenticalRequestsGetDistinctKeys(t *testing.T) {
	g := NewRegistry()
	first := create(t, g)
	second := create(t, g)

	require.NotEqual(t, first.Key, second.Key)
	require.Equal(t, uint64(0), first.Sequence)
	require.Equal(t, uint64(1), second.Sequence)
	require.Equal(t, 2, g.Count())
	require.Equal(t, StatusOpen, first.Status)
	require.True(t, first.Lab.IsZero())
}

func TestClaimRequiresValidation(t *testing.T) {
	g := NewRegistry()
	r := create(t, g)

	_, err := g.PlanClaim(r.Key, lab)
	require.ErrorIs(t, err, ledgererr.ErrNotValidated)
	require.Contains(t, err.Error(), "lab's service has not been validated")

	validate(t, g, lab, "Genetic Counseling")
	_, err = g.PlanClaim(r.Key, lab)
	require.ErrorIs(t, err, ledgererr.ErrNotValidated)

	validate(t, g, lab, category)
	claimed, err := g.PlanClaim(r.Key, lab)
	require.NoError(t, err)
	g.Apply(claimed)

	got, err := g.Get(r.Key)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, got.Status)
	require.Equal(t, lab, got.Lab)
}

func TestSecondClaimFails(t *testing.T) {
	g := NewRegistry()
	r := create(t, g)
	validate(t, g, lab, category)
	validate(t, g, otherLab, category)

	claimed, err := g.PlanClaim(r.Key, lab)
	require.NoError(t, err)
	g.Apply(claimed)

	_, err = g.PlanClaim(r.Key, otherLab)
	require.ErrorIs(t, err, ledgererr.ErrAlreadyClaimed)
	_, err = g.PlanClaim(r.Key, lab)
	require.ErrorIs(t, err, ledgererr.ErrAlreadyClaimed)

	got, err := g.Get(r.Key)
	require.NoError(t, err)
	require.Equal(t, lab, got.Lab)
}

func TestClaimUnknownRequest(t *testing.T) {
	g := NewRegistry()
	validate(t, g, lab, category)

	_, err := g.PlanClaim(chain.Keccak256([]byte("missing")), lab)
	require.ErrorIs(t, err, ledgererr.ErrNotFound)
}

func TestProcessOnlyFromClaimed(t *testing.T) {
	g := NewRegistry()
	r := create(t, g)

	_, err := g.PlanProcess(r.Key)
	require.ErrorIs(t, err, ledgererr.ErrInvalidState)

	validate(t, g, lab, category)
	claimed, err := g.PlanClaim(r.Key, lab)
	require.NoError(t, err)
	g.Apply(claimed)

	processed, err := g.PlanProcess(r.Key)
	require.NoError(t, err)
	g.Apply(processed)

	got, err := g.Get(r.Key)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, got.Status)
	require.Equal(t, lab, got.Lab)

	_, err = g.PlanProcess(r.Key)
	require.ErrorIs(t, err, ledgererr.ErrInvalidState)
}

func TestValidationOverwrite(t *testing.T) {
	g := NewRegistry()
	validate(t, g, lab, category)

	v, err := g.PlanValidation(lab, category, "service-2")
	require.NoError(t, err)
	g.ApplyValidation(v)

	got, err := g.Validation(lab, category)
	require.NoError(t, err)
	require.Equal(t, "service-2", got.ServiceID)
	require.Len(t, g.Validations(), 1)

	_, err = g.Validation(otherLab, category)
	require.ErrorIs(t, err, ledgererr.ErrNotFound)
}

func TestIndicesReflectCreation(t *testing.T) {
	g := NewRegistry()
	first := create(t, g)
	r, err := g.PlanCreate(requester, "Singapore", "Singapore", category, big.NewInt(20))
	require.NoError(t, err)
	g.Apply(r)

	require.Equal(t, []Request{first}, g.ByCountry(country))
	require.Equal(t, []Request{first}, g.ByCountryCity(country, city))
	require.Empty(t, g.ByCountryCity(country, "Bandung"))
	require.Len(t, g.ByRequester(requester), 2)

	validate(t, g, lab, category)
	claimed, err := g.PlanClaim(first.Key, lab)
	require.NoError(t, err)
	g.Apply(claimed)

	byKey, err := g.Get(first.Key)
	require.NoError(t, err)
	require.Equal(t, []Request{byKey}, g.ByCountryCity(country, city))
}

func TestRestoreKeepsSequence(t *testing.T) {
	g := NewRegistry()
	create(t, g)
	create(t, g)
	validate(t, g, lab, category)

	restored := Restore(g.All(), g.Validations())
	next, err := restored.PlanCreate(requester, country, city, category, big.NewInt(20))
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Sequence)

	_, err = restored.Validation(lab, category)
	require.NoError(t, err)
}

func TestCreateRejectsBadInput(t *testing.T) {
	g := NewRegistry()

	_, err := g.PlanCreate("", country, city, category, big.NewInt(1))
	require.ErrorIs(t, err, ledgererr.ErrInvalidArgument)
	_, err = g.PlanCreate(requester, country, city, category, big.NewInt(-1))
	require.ErrorIs(t, err, ledgererr.ErrInvalidArgument)
}
