package deploy

// importRequest uploads a PKCS#12 bundle to the target's certificate store
type importRequest struct {
	Bundle     string `json:"bundle"` // base64 PKCS#12 container
	Passphrase string `json:"passphrase"`
}

// apiResponse is the target admin API envelope
type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type importResponse struct {
	apiResponse
	Data struct {
		Fingerprint string `json:"fingerprint"`
	} `json:"data"`
}

type certificateResponse struct {
	apiResponse
	Data struct {
		Fingerprint string `json:"fingerprint"`
		Domain      string `json:"domain"`
		NotAfter    string `json:"notAfter"`
	} `json:"data"`
}

// Binding is one site's TLS binding on the target
type Binding struct {
	Site        string `json:"site"`
	Port        int    `json:"port"`
	Fingerprint string `json:"fingerprint"`
}

type bindingResponse struct {
	apiResponse
	Data Binding `json:"data"`
}

type bindingRequest struct {
	Port        int    `json:"port"`
	Fingerprint string `json:"fingerprint"`
}
