package mirrorsync

import (
	"github.com/agentstation/mirrorsync/internal/governor"
	"github.com/agentstation/mirrorsync/internal/lock"
	"github.com/agentstation/mirrorsync/pkg/records"
)

// Property names and labels used by the projects workspace this engine was
// built for. All of them can be overridden with options.
const (
	DefaultNameProperty         = "اسم المشروع"
	DefaultStatusProperty       = "حالة المشروع"
	DefaultRemainingProperty    = "المبلغ المتبقي"
	DefaultOwnersProperty       = "مدير المشروع"
	DefaultRegistryNameProperty = "اسم مدير المشروع"
	DefaultMirrorTitle          = "مشاريعك"
	DefaultTagProperty          = "آخر مصدر تحديث"
	DefaultSystemLabel          = "النظام"
	DefaultOwnerLabel           = "المدير"
)

// Policy selects how the source tag arbitrates writes.
type Policy = governor.Policy

// Policies.
const (
	PolicyTagged    = governor.Tagged
	PolicyOverwrite = governor.Overwrite
)

// Mapping names the master properties the engine reads. Mirror tables use
// the same property names.
type Mapping struct {
	Name      string // natural key, the title of master and mirror rows
	Status    string // written forward, pushed back by the reverse pass
	Remaining string // master-only, usually a formula in master
	Owners    string // relation to owner records
}

// DefaultMapping returns the default property mapping.
func DefaultMapping() Mapping {
	return Mapping{
		Name:      DefaultNameProperty,
		Status:    DefaultStatusProperty,
		Remaining: DefaultRemainingProperty,
		Owners:    DefaultOwnersProperty,
	}
}

// forwardFields returns the master properties copied into mirrors.
func (m Mapping) forwardFields() []string {
	return []string{m.Status, m.Remaining}
}

// SubTable is a fixed table ensured under every mirror row.
type SubTable struct {
	Title  string
	Schema records.Schema
}

func selectOptions(name, color string, more ...string) map[string]any {
	opts := []any{map[string]any{"name": name, "color": color}}
	for i := 0; i+1 < len(more); i += 2 {
		opts = append(opts, map[string]any{"name": more[i], "color": more[i+1]})
	}
	return map[string]any{"options": opts}
}

var numberFormat = map[string]any{"format": "number"}

// DefaultSubTables returns the freelance and purchases tables every project
// row carries.
func DefaultSubTables() []SubTable {
	return []SubTable{
		{
			Title: "فريق الفرعي لانس",
			Schema: records.NewSchema(
				records.Property{Name: "نوع الصرف", Kind: records.KindTitle},
				records.Property{Name: "اسم الشخص", Kind: records.KindText},
				records.Property{Name: "العمل", Kind: records.KindText},
				records.Property{Name: "المبلغ", Kind: records.KindNumber, Config: numberFormat},
				records.Property{Name: "آيبان", Kind: records.KindText},
				records.Property{Name: "حالة الدفع", Kind: records.KindSelect, Config: selectOptions(
					"مكتمل", "green", "جزئي", "yellow", "غير مدفوع", "red")},
				records.Property{Name: "إيصال", Kind: records.KindFiles},
			),
		},
		{
			Title: "المشتريات",
			Schema: records.NewSchema(
				records.Property{Name: "نوع المصروف", Kind: records.KindTitle},
				records.Property{Name: "تاريخ", Kind: records.KindDate},
				records.Property{Name: "المبلغ", Kind: records.KindNumber, Config: numberFormat},
				records.Property{Name: "المبلغ بدون ضريبة", Kind: records.KindNumber, Config: numberFormat},
				records.Property{Name: "إرفاق الفاتورة", Kind: records.KindFiles},
				records.Property{Name: "دافع المبلغ", Kind: records.KindSelect, Config: selectOptions(
					"الشركة", "blue", "المدير", "gray")},
			),
		},
	}
}

// config holds engine settings.
type config struct {
	mapping      Mapping
	registryName string
	mirrorTitle  string
	tag          governor.Config
	copyTemplate bool
	subTables    []SubTable
	locker       lock.Locker
}

func defaultConfig() *config {
	m := DefaultMapping()
	return &config{
		mapping:      m,
		registryName: DefaultRegistryNameProperty,
		mirrorTitle:  DefaultMirrorTitle,
		tag: governor.Config{
			TagProperty:   DefaultTagProperty,
			SystemLabel:   DefaultSystemLabel,
			OwnerLabel:    DefaultOwnerLabel,
			ReverseFields: []string{m.Status},
			Policy:        governor.Tagged,
		},
		copyTemplate: true,
		subTables:    DefaultSubTables(),
	}
}
