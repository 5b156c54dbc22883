package score

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "whitespace only", in: " \t\n ", want: ""},
		{name: "diacritics and case", in: "ÁrBOL  \tVerde", want: "arbol verde"},
		{name: "newlines collapse", in: "una\nlínea\n\totra", want: "una linea otra"},
		{name: "leading and trailing space", in: "  suministro de agua  ", want: "suministro de agua"},
		{name: "enie preserved", in: "Año de la Señal", want: "ano de la senal"},
		{name: "already normalized", in: "compra de computadores", want: "compra de computadores"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"", "ÁrBOL  Verde", "Construcción de Cañerías", "plain text", "MAYÚSCULAS\tcon\nespacios"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}
