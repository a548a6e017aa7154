package gpu

import "testing"

func TestStorageClassRelaxed(t *testing.T) {
	cases := []struct {
		in       StorageClass
		want     StorageClass
		wantOK   bool
	}{
		{StorageDevicePrivate, StorageHostShared, true},
		{StorageHostShared, StorageHostManaged, true},
		{StorageHostManaged, StorageHostManaged, false},
	}

	for _, c := range cases {
		got, ok := c.in.relaxed()
		if got != c.want || ok != c.wantOK {
			t.Errorf("%v.relaxed() = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.wantOK)
		}
	}
}
