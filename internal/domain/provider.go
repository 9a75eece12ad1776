package domain

type ProviderInfo struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Icon string `json:"icon"`
	RDNS string `json:"rdns"`
}
