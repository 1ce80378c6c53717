package deck

import "errors"

var ErrInvalidPairCount = errors.New("pair count out of range")

var catalog = []Face{
	{1, "Axolotl"}, {2, "Badger"}, {3, "Capybara"}, {4, "Dingo"},
	{5, "Echidna"}, {6, "Falcon"}, {7, "Gecko"}, {8, "Heron"},
	{9, "Ibex"}, {10, "Jackal"}, {11, "Kiwi"}, {12, "Lemur"},
	{13, "Marmot"}, {14, "Narwhal"}, {15, "Ocelot"}, {16, "Pangolin"},
	{17, "Quokka"}, {18, "Raccoon"}, {19, "Salamander"}, {20, "Tapir"},
	{21, "Urchin"}, {22, "Vulture"}, {23, "Walrus"}, {24, "Xerus"},
	{25, "Yak"}, {26, "Zebu"}, {27, "Armadillo"}, {28, "Bison"},
	{29, "Caracal"}, {30, "Dugong"}, {31, "Ermine"}, {32, "Fennec"},
	{33, "Gibbon"}, {34, "Hornbill"}, {35, "Impala"}, {36, "Jerboa"},
	{37, "Kinkajou"}, {38, "Lynx"}, {39, "Manatee"}, {40, "Numbat"},
	{41, "Okapi"}, {42, "Puffin"}, {43, "Quetzal"}, {44, "Reindeer"},
	{45, "Serval"}, {46, "Tamarin"}, {47, "Uakari"}, {48, "Vicuna"},
}

func CatalogSize() int { return len(catalog) }

// Pick selects n distinct faces from the catalog. The choice is derived from
// seed so a seed reproduces the whole board, not just its order.
func Pick(n int, seed string) ([]Face, error) {
	if n < 1 || n > len(catalog) {
		return nil, ErrInvalidPairCount
	}
	pool := make([]Face, len(catalog))
	copy(pool, catalog)

	r := newRNG("faces:" + seed)
	for i := 0; i < n; i++ {
		j := i + r.intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n], nil
}

// Deal picks n faces and builds the shuffled deck for seed.
func Deal(n int, seed string) ([]Card, error) {
	faces, err := Pick(n, seed)
	if err != nil {
		return nil, err
	}
	return Build(faces, seed), nil
}
