package bridge

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Response is everything a bridge wrote for one request.
type Response struct {
	Status   Status
	Message  string
	Contents []string
}

const (
	handshakeSync  = "sm=true"
	handshakeAsync = "sm=false"
	bannerKey      = "BridgePublicAddress='"
)

var endRE = regexp.MustCompile(`^END -- (.*)`)

// ReadResponse reads content lines until the END sentinel. EOF before the
// sentinel is a communication error.
func ReadResponse(r *bufio.Reader) (Response, error) {
	var contents []string
	for {
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return Response{}, commErr("read response: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if m := endRE.FindStringSubmatch(line); m != nil {
			resp := ParseStatus(m[1])
			resp.Contents = contents
			return resp, nil
		}
		if err == io.EOF {
			return Response{}, commErr("read response: unexpected EOF after %q", line)
		}
		contents = append(contents, line)
	}
}

// ParseStatus interprets the text after "END -- ".
func ParseStatus(text string) Response {
	switch {
	case strings.HasPrefix(text, "SUCCESS"):
		return Response{Status: StatusSuccess}
	case strings.HasPrefix(text, "FAILURE:"):
		return Response{Status: StatusFailure, Message: strings.TrimSpace(strings.TrimPrefix(text, "FAILURE:"))}
	default:
		return Response{Status: StatusUnknown, Message: "Unrecognized status: " + text}
	}
}

// parseBanner extracts host:port from BridgePublicAddress='host:port'.
func parseBanner(line string) (string, bool) {
	i := strings.Index(line, bannerKey)
	if i < 0 {
		return "", false
	}
	rest := line[i+len(bannerKey):]
	end := strings.IndexByte(rest, '\'')
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
