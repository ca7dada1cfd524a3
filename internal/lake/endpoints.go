// Package lake resolves data lake mounts and serves the buckets behind them
// through the lake sharing service, using a fresh pre-authenticated request
// (PAR) for every object call.
package lake

import (
	"strings"

	"github.com/ocifs/ocifs-go/internal/fserrors"
)

const (
	// DefaultLakehouseTemplate is the lake control plane endpoint.
	DefaultLakehouseTemplate = "https://lake.{region}.oci.oraclecloud.com"
	// DefaultObjectStorageTemplate is the native object storage endpoint
	// that serves PAR requests.
	DefaultObjectStorageTemplate = "https://objectstorage.{region}.oraclecloud.com"

	lakehouseBasePath = "/20221010"
	sharingBasePath   = "/20180828"
)

// regionKeys maps the short region keys embedded in OCIDs to region names.
var regionKeys = map[string]string{
	"iad": "us-ashburn-1",
	"phx": "us-phoenix-1",
	"sjc": "us-sanjose-1",
	"ord": "us-chicago-1",
	"yyz": "ca-toronto-1",
	"yul": "ca-montreal-1",
	"gru": "sa-saopaulo-1",
	"lhr": "uk-london-1",
	"cwl": "uk-cardiff-1",
	"fra": "eu-frankfurt-1",
	"ams": "eu-amsterdam-1",
	"zrh": "eu-zurich-1",
	"mrs": "eu-marseille-1",
	"cdg": "eu-paris-1",
	"lin": "eu-milan-1",
	"arn": "eu-stockholm-1",
	"mad": "eu-madrid-1",
	"bom": "ap-mumbai-1",
	"hyd": "ap-hyderabad-1",
	"sin": "ap-singapore-1",
	"nrt": "ap-tokyo-1",
	"kix": "ap-osaka-1",
	"icn": "ap-seoul-1",
	"yny": "ap-chuncheon-1",
	"syd": "ap-sydney-1",
	"mel": "ap-melbourne-1",
	"jed": "me-jeddah-1",
	"dxb": "me-dubai-1",
	"auh": "me-abudhabi-1",
	"jnb": "af-johannesburg-1",
	"mtz": "il-jerusalem-1",
}

// RegionFromLakeID extracts the region from a lake OCID
// (ocid1.lake.<realm>.<region>.<unique>). Short region keys are expanded;
// unknown keys are returned as they are.
func RegionFromLakeID(lakeID string) (string, error) {
	segs := strings.Split(lakeID, ".")
	if len(segs) < 5 || segs[0] != "ocid1" || segs[1] != "lake" || segs[3] == "" {
		return "", fserrors.Invalid("lake region", lakeID, "not a lake OCID")
	}
	region := strings.ToLower(segs[3])
	if name, ok := regionKeys[region]; ok {
		return name, nil
	}
	return region, nil
}

// Endpoints holds the endpoint templates used for a lake. Templates may
// reference {region}.
type Endpoints struct {
	Lakehouse     string
	ObjectStorage string
}

// DefaultEndpoints returns the public OCI endpoint templates.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Lakehouse:     DefaultLakehouseTemplate,
		ObjectStorage: DefaultObjectStorageTemplate,
	}
}

func (e Endpoints) withDefaults() Endpoints {
	if e.Lakehouse == "" {
		e.Lakehouse = DefaultLakehouseTemplate
	}
	if e.ObjectStorage == "" {
		e.ObjectStorage = DefaultObjectStorageTemplate
	}
	return e
}

func expand(template, region string) string {
	return strings.TrimRight(strings.ReplaceAll(template, "{region}", region), "/")
}

// LakehouseURL returns the lake control plane base URL for lakeID.
func (e Endpoints) LakehouseURL(lakeID string) (string, error) {
	region, err := RegionFromLakeID(lakeID)
	if err != nil {
		return "", err
	}
	return expand(e.withDefaults().Lakehouse, region) + lakehouseBasePath, nil
}

// ObjectStorageURL returns the PAR object storage base URL for lakeID.
func (e Endpoints) ObjectStorageURL(lakeID string) (string, error) {
	region, err := RegionFromLakeID(lakeID)
	if err != nil {
		return "", err
	}
	return expand(e.withDefaults().ObjectStorage, region), nil
}

// SharingURL returns the base URL of the sharing API at endpoint.
func SharingURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + sharingBasePath
}
