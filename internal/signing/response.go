package signing

// CommandResponse is the command tag echoed in every successful response.
const CommandResponse = "managexsign"

// Response is the envelope returned to the caller and posted to webhooks.
type Response struct {
	Response ResponseBody `json:"response"`
}

// ResponseBody echoes the request identity and carries the signed document
// both inline and by retrieval URL.
type ResponseBody struct {
	Command       string   `json:"command"`
	TS            string   `json:"ts"`
	Txn           string   `json:"txn"`
	Status        string   `json:"status"`
	File          FileInfo `json:"file"`
	SignedPDFURL  string   `json:"signed_pdf_url"`
	SignedPDFData string   `json:"signed_pdf_data"`
}

type FileInfo struct {
	Attribute FileAttribute `json:"attribute"`
}

type FileAttribute struct {
	Name string `json:"Name"`
	Type string `json:"Type"`
}
