// Reader is a testing facility to read the output of a http reporter.

package reporter

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) url(route string) string {
	return "http://" + hr.serverIP + ":" + hr.serverPort + route
}

func readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()

	// Read the response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	// Convert the body to a string
	return string(body), nil
}

func (hr *HttpReader) GetHello() (string, error) {
	resp, err := http.Get(hr.url(ROUTE_HELLO))
	if err != nil {
		return "", err
	}
	return readBody(resp)
}

func (hr *HttpReader) GetOperation(id string) (string, error) {
	resp, err := http.Get(hr.url(ROUTE_OPERATIONS + "/" + id))
	if err != nil {
		return "", err
	}
	return readBody(resp)
}

func (hr *HttpReader) GetInfo() (string, error) {
	resp, err := http.Get(hr.url(ROUTE_INFO))
	if err != nil {
		return "", err
	}
	return readBody(resp)
}

// Post sends body as json to route and returns the status code and the
// response body.
func (hr *HttpReader) Post(route string, body any) (int, string, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, "", err
		}
	}
	resp, err := http.Post(hr.url(route), "application/json", &buf)
	if err != nil {
		return 0, "", err
	}
	out, err := readBody(resp)
	return resp.StatusCode, out, err
}
