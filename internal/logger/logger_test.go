package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log, closer := New(Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "meteo-histo"})
	defer closer.Close()

	log.WithField(FieldStation, "59343001").Debug("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, buf.String())
	}
	if line["service"] != "meteo-histo" || line[FieldStation] != "59343001" || line["message"] != "hello" {
		t.Errorf("line = %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Errorf("missing timestamp: %v", line)
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log, _ := New(Config{Level: "chatty", Output: &buf})

	log.Debug("dropped")
	if buf.Len() != 0 {
		t.Errorf("debug line written at info level: %s", buf.String())
	}
	log.Info("kept")
	if !bytes.Contains(buf.Bytes(), []byte("kept")) {
		t.Errorf("info line missing: %s", buf.String())
	}
}
