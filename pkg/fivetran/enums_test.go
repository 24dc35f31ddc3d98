package fivetran

import (
	"encoding/json"
	"testing"
)

func TestSyncFrequencyWire(t *testing.T) {
	data, err := json.Marshal(SyncEvery15Minutes)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "15" {
		t.Errorf("expected 15, got %s", data)
	}

	var f SyncFrequency
	if err := json.Unmarshal([]byte("15"), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f != SyncEvery15Minutes {
		t.Errorf("expected 15 minutes, got %d", f)
	}

	for _, bad := range []string{"7", `"15"`, "0", "1441"} {
		if err := json.Unmarshal([]byte(bad), &f); err == nil {
			t.Errorf("expected %s to be rejected", bad)
		}
	}
	if _, err := json.Marshal(SyncFrequency(2)); err == nil {
		t.Error("expected marshal of 2 to fail")
	}
}

func TestTimeZoneOffsetTokens(t *testing.T) {
	tests := []struct {
		offset TimeZoneOffset
		token  string
	}{
		{-11, "-11"},
		{-1, "-1"},
		{0, "0"},
		{1, "+1"},
		{12, "+12"},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.offset)
		if err != nil {
			t.Fatalf("marshal %d: %v", tt.offset, err)
		}
		if string(data) != `"`+tt.token+`"` {
			t.Errorf("offset %d: expected %q, got %s", tt.offset, tt.token, data)
		}

		var got TimeZoneOffset
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != tt.offset {
			t.Errorf("token %s: expected %d, got %d", data, tt.offset, got)
		}
	}

	for _, bad := range []string{"1", "+0", "-0", "-12", "+13", "", "x"} {
		if _, err := ParseTimeZoneOffset(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestStringEnums(t *testing.T) {
	valid := []interface{ Validate() error }{
		SchemaChangeAllowAll, SchemaChangeAllowColumns, SchemaChangeBlockAll,
		UpdateMethodTeleport, UpdateMethodWAL, UpdateMethodWALPgOutput, UpdateMethodXMIN,
		ConnectionDirectly, ConnectionPrivateLink, ConnectionProxyAgent, ConnectionSSHTunnel,
		Region("AWS_US_EAST_1"), Region("GCP_US_WEST1"),
	}
	for _, v := range valid {
		if err := v.Validate(); err != nil {
			t.Errorf("expected %v to be valid: %v", v, err)
		}
	}

	invalid := []interface{ Validate() error }{
		SchemaChangeHandling("allow_all"),
		UpdateMethod("LOGICAL"),
		ConnectionType("directly"),
		Region("MARS_1"),
	}
	for _, v := range invalid {
		if err := v.Validate(); err == nil {
			t.Errorf("expected %v to be invalid", v)
		}
	}

	data, err := json.Marshal(ConnectionSSHTunnel)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"SshTunnel"` {
		t.Errorf("expected \"SshTunnel\", got %s", data)
	}

	var m UpdateMethod
	if err := json.Unmarshal([]byte(`"WAL_PGOUTPUT"`), &m); err != nil || m != UpdateMethodWALPgOutput {
		t.Errorf("expected WAL_PGOUTPUT, got %q (%v)", m, err)
	}
	if err := json.Unmarshal([]byte(`"wal"`), &m); err == nil {
		t.Error("expected lowercase update method to be rejected")
	}
}

func TestRegionDecodesUnknownValues(t *testing.T) {
	var d Destination
	if err := json.Unmarshal([]byte(`{"id":"d","region":"AWS_ME_SOUTH_1","time_zone_offset":"+3"}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Region != "AWS_ME_SOUTH_1" || d.TimeZoneOffset != 3 {
		t.Errorf("unexpected destination: %+v", d)
	}
}

func TestEnumsIgnoreNull(t *testing.T) {
	f := SyncEvery15Minutes
	if err := json.Unmarshal([]byte("null"), &f); err != nil || f != SyncEvery15Minutes {
		t.Errorf("sync frequency: err=%v value=%d", err, f)
	}

	o := TimeZoneOffset(-5)
	if err := json.Unmarshal([]byte("null"), &o); err != nil || o != -5 {
		t.Errorf("time zone offset: err=%v value=%d", err, o)
	}

	h := SchemaChangeBlockAll
	if err := json.Unmarshal([]byte("null"), &h); err != nil || h != SchemaChangeBlockAll {
		t.Errorf("schema change handling: err=%v value=%s", err, h)
	}

	m := UpdateMethodXMIN
	if err := json.Unmarshal([]byte("null"), &m); err != nil || m != UpdateMethodXMIN {
		t.Errorf("update method: err=%v value=%s", err, m)
	}

	c := ConnectionDirectly
	if err := json.Unmarshal([]byte("null"), &c); err != nil || c != ConnectionDirectly {
		t.Errorf("connection type: err=%v value=%s", err, c)
	}
}
