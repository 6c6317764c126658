package textutil

import (
	"reflect"
	"testing"
)

func TestComponentMap(t *testing.T) {
	t.Run("normalises keys and sorts components", func(t *testing.T) {
		values, components := ComponentMap(map[string]string{
			" mod_quiz ":  " https://quiz.example ",
			"MOD_Booking": "https://booking.example",
			" ":           "ignored",
		})
		want := map[string]string{
			"mod_booking": "https://booking.example",
			"mod_quiz":    "https://quiz.example",
		}
		if !reflect.DeepEqual(values, want) {
			t.Fatalf("expected %#v got %#v", want, values)
		}
		if !reflect.DeepEqual(components, []string{"mod_booking", "mod_quiz"}) {
			t.Fatalf("unexpected component order %v", components)
		}
	})

	t.Run("first sorted key wins on collisions", func(t *testing.T) {
		values, components := ComponentMap(map[string]string{
			"mod_booking":  "second",
			"MOD_BOOKING":  "first",
			" mod_booking": "zeroth",
		})
		if len(components) != 1 || values["mod_booking"] != "zeroth" {
			t.Fatalf("unexpected collision result %v %v", values, components)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		values, components := ComponentMap(nil)
		if len(values) != 0 || len(components) != 0 {
			t.Fatalf("expected empty result, got %v %v", values, components)
		}
	})
}

func TestNormalizeComponent(t *testing.T) {
	if got := NormalizeComponent("  Local_ShoppingCart "); got != "local_shoppingcart" {
		t.Fatalf("unexpected component %q", got)
	}
}
