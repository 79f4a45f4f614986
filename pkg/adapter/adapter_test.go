package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/relay/pkg/types"
)

func resource(opts ...func(*types.DataInstance)) *types.DataInstance {
	di := &types.DataInstance{
		UUID: "di-1",
		Data: &types.Data{
			UUID: "data-1",
			ProductInstance: &types.ProductInstance{
				UUID:          "pi-1",
				ReferenceTime: time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC),
				Product:       &types.Product{UUID: "prod-1", Slug: "wind-speed"},
			},
		},
		Format:         &types.Format{UUID: "fmt-1", Name: "netcdf"},
		ServiceBackend: &types.ServiceBackend{UUID: "backend-1", Name: "opdata"},
		URL:            "https://example.test/file.nc",
	}
	for _, opt := range opts {
		opt(di)
	}
	return di
}

func TestValidateCommon_RejectsNilOrDeleted(t *testing.T) {
	assert.False(t, ValidateCommon(Config{}, nil, nil, nil))
	assert.False(t, ValidateCommon(Config{}, nil, nil, resource(func(d *types.DataInstance) { d.Deleted = true })))
}

func TestValidateCommon_AllowListsEmptyMatchEverything(t *testing.T) {
	assert.True(t, ValidateCommon(Config{}, nil, nil, resource()))
}

func TestValidateCommon_ProductAllowList(t *testing.T) {
	cfg := Config{InputProduct: []string{"sea-surface-temp"}}
	assert.False(t, ValidateCommon(cfg, nil, nil, resource()))

	cfg.InputProduct = []string{"wind-speed"}
	assert.True(t, ValidateCommon(cfg, nil, nil, resource()))
}

func TestValidateCommon_ServiceBackendAllowList(t *testing.T) {
	cfg := Config{InputServiceBackend: []string{"lustre"}}
	assert.False(t, ValidateCommon(cfg, nil, nil, resource()))

	cfg.InputServiceBackend = []string{"opdata"}
	assert.True(t, ValidateCommon(cfg, nil, nil, resource()))
}

func TestValidateCommon_DataFormatAllowList(t *testing.T) {
	cfg := Config{InputDataFormat: []string{"grib"}}
	assert.False(t, ValidateCommon(cfg, nil, nil, resource()))

	cfg.InputDataFormat = []string{"netcdf"}
	assert.True(t, ValidateCommon(cfg, nil, nil, resource()))
}

func TestValidateCommon_ReferenceHourAllowList(t *testing.T) {
	cfg := Config{InputReferenceHours: []int{6, 18}}
	assert.False(t, ValidateCommon(cfg, nil, nil, resource()))

	cfg.InputReferenceHours = []int{14}
	assert.True(t, ValidateCommon(cfg, nil, nil, resource()))
}

func TestValidateCommon_PartialPolicy(t *testing.T) {
	partial := resource(func(d *types.DataInstance) { d.Partial = true })
	complete := resource()

	cfg := Config{InputPartial: types.PartialNo}
	assert.False(t, ValidateCommon(cfg, nil, nil, partial))
	assert.True(t, ValidateCommon(cfg, nil, nil, complete))

	cfg.InputPartial = types.PartialOnly
	assert.True(t, ValidateCommon(cfg, nil, nil, partial))
	assert.False(t, ValidateCommon(cfg, nil, nil, complete))

	cfg.InputPartial = types.PartialBoth
	assert.True(t, ValidateCommon(cfg, nil, nil, partial))
	assert.True(t, ValidateCommon(cfg, nil, nil, complete))
}

func TestValidateCommon_HashPresencePolicy(t *testing.T) {
	withHash := resource(func(d *types.DataInstance) { d.Hash = "abc123" })
	withoutHash := resource()

	required := true
	cfg := Config{InputWithHash: &required}
	assert.True(t, ValidateCommon(cfg, nil, nil, withHash))
	assert.False(t, ValidateCommon(cfg, nil, nil, withoutHash))

	absent := false
	cfg = Config{InputWithHash: &absent}
	assert.False(t, ValidateCommon(cfg, nil, nil, withHash))
	assert.True(t, ValidateCommon(cfg, nil, nil, withoutHash))

	cfg = Config{InputWithHash: nil}
	assert.True(t, ValidateCommon(cfg, nil, nil, withHash))
	assert.True(t, ValidateCommon(cfg, nil, nil, withoutHash))
}

func TestValidateCommon_ReferenceTimeThreshold(t *testing.T) {
	stale := resource(func(d *types.DataInstance) {
		d.Data.ProductInstance.ReferenceTime = time.Now().Add(-2 * time.Hour)
	})
	fresh := resource(func(d *types.DataInstance) {
		d.Data.ProductInstance.ReferenceTime = time.Now().Add(-1 * time.Minute)
	})

	cfg := Config{ReferenceTimeThreshold: time.Hour}
	assert.False(t, ValidateCommon(cfg, nil, nil, stale))
	assert.True(t, ValidateCommon(cfg, nil, nil, fresh))

	cfg.ReferenceTimeThreshold = 0
	assert.True(t, ValidateCommon(cfg, nil, nil, stale), "zero threshold disables the check")
}

func TestValidateCommon_Blacklist(t *testing.T) {
	bl := NewBlacklist()
	res := resource()

	assert.True(t, ValidateCommon(Config{}, bl, nil, res))

	bl.Add(res.UUID)
	assert.False(t, ValidateCommon(Config{}, bl, nil, res))
}

func TestValidateCommon_BlacklistCoversRelatedUUIDs(t *testing.T) {
	bl := NewBlacklist()
	bl.Add("pi-1")
	assert.False(t, ValidateCommon(Config{}, bl, nil, resource()))

	bl = NewBlacklist()
	bl.Add("data-1")
	assert.False(t, ValidateCommon(Config{}, bl, nil, resource()))
}

func TestValidateCommon_RequiredUUIDsNarrowCast(t *testing.T) {
	ru := NewRequiredUUIDs()
	res := resource()

	assert.True(t, ValidateCommon(Config{}, nil, ru, res), "empty required set is unrestricted")

	ru.Add("some-other-uuid")
	assert.False(t, ValidateCommon(Config{}, nil, ru, res))

	ru.Add(res.UUID)
	assert.True(t, ValidateCommon(Config{}, nil, ru, res))

	ru.Remove(res.UUID)
	ru.Add("pi-1")
	assert.True(t, ValidateCommon(Config{}, nil, ru, res), "matches via the product instance UUID")

	ru.Clear()
	assert.True(t, ValidateCommon(Config{}, nil, ru, res))
}

func TestRequiredUUIDs_MatchesFormatAndServiceBackend(t *testing.T) {
	res := resource()

	byFormat := NewRequiredUUIDs()
	byFormat.Add("fmt-1")
	assert.True(t, byFormat.Matches(res))

	byBackend := NewRequiredUUIDs()
	byBackend.Add("backend-1")
	assert.True(t, byBackend.Matches(res))
}

func TestNullAdapter_ValidateUsesOwnBlacklist(t *testing.T) {
	n := NewNull(Config{Name: "null"})
	res := resource()

	assert.True(t, n.Validate(res))

	n.Blacklist.Add(res.UUID)
	assert.False(t, n.Validate(res))
}
