package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// TextSensor names the page description attached to observations.
type TextSensor string

const (
	SensorNone    TextSensor = "none"
	SensorAXTree  TextSensor = "axtree"
	SensorOutline TextSensor = "outline"
)

// ParseTextSensor accepts the config spelling of a sensor.
func ParseTextSensor(name string) (TextSensor, error) {
	switch TextSensor(name) {
	case "", SensorNone:
		return SensorNone, nil
	case SensorAXTree, "accessibility_tree":
		return SensorAXTree, nil
	case SensorOutline:
		return SensorOutline, nil
	}
	return SensorNone, fmt.Errorf("unknown text sensor: %s (supported: none, axtree, outline)", name)
}

// Describe returns the page description for sensor, or "" for SensorNone.
func (b *Browser) Describe(ctx context.Context, sensor TextSensor) (string, error) {
	switch sensor {
	case SensorAXTree:
		return b.AccessibilityTree(ctx)
	case SensorOutline:
		m, err := b.Outline(ctx)
		if err != nil {
			return "", err
		}
		return m.Render(), nil
	}
	return "", nil
}

// AccessibilityTree renders the page's full accessibility tree.
func (b *Browser) AccessibilityTree(ctx context.Context) (string, error) {
	res, err := proto.AccessibilityGetFullAXTree{}.Call(b.page.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to read accessibility tree: %w", err)
	}
	return RenderAXTree(flattenAXTree(res.Nodes)), nil
}

func axString(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	return v.Value.String()
}

// flattenAXTree walks the nodes depth-first from the roots. Ignored nodes
// are skipped but their children are kept at the same depth.
func flattenAXTree(nodes []*proto.AccessibilityAXNode) []AXNode {
	byID := make(map[proto.AccessibilityAXNodeID]*proto.AccessibilityAXNode, len(nodes))
	for _, n := range nodes {
		byID[n.NodeID] = n
	}

	var out []AXNode
	visited := make(map[proto.AccessibilityAXNodeID]bool, len(nodes))
	var walk func(n *proto.AccessibilityAXNode, depth int)
	walk = func(n *proto.AccessibilityAXNode, depth int) {
		if visited[n.NodeID] {
			return
		}
		visited[n.NodeID] = true
		childDepth := depth
		if !n.Ignored {
			out = append(out, AXNode{Role: axString(n.Role), Name: axString(n.Name), Depth: depth})
			childDepth = depth + 1
		}
		for _, id := range n.ChildIDs {
			if c, ok := byID[id]; ok {
				walk(c, childDepth)
			}
		}
	}

	for _, n := range nodes {
		if _, hasParent := byID[n.ParentID]; n.ParentID == "" || !hasParent {
			walk(n, 0)
		}
	}
	return out
}

// Outline extracts the visible interactive elements with their centres.
func (b *Browser) Outline(ctx context.Context) (*PageMap, error) {
	page := b.page.Context(ctx)

	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to read page info: %w", err)
	}

	res, err := page.Eval(outlineJS)
	if err != nil {
		return nil, fmt.Errorf("failed to extract elements: %w", err)
	}

	m := &PageMap{URL: info.URL, Title: info.Title, IsSPA: detectSPA(ctx, b.page)}
	for _, v := range res.Value.Arr() {
		m.Elements = append(m.Elements, Element{
			Type:        v.Get("type").String(),
			Text:        v.Get("text").String(),
			Placeholder: v.Get("placeholder").String(),
			Name:        v.Get("name").String(),
			X:           v.Get("x").Int(),
			Y:           v.Get("y").Int(),
		})
	}
	return m, nil
}

const outlineJS = `() => {
	const elements = [];
	const seen = new Set();
	const vw = window.innerWidth, vh = window.innerHeight;

	function push(el, type, extra) {
		if (!el.offsetParent && el.tagName !== 'BODY') return;
		if (seen.has(el)) return;
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) return;
		const x = Math.round(r.left + r.width / 2), y = Math.round(r.top + r.height / 2);
		if (x < 0 || y < 0 || x >= vw || y >= vh) return;
		seen.add(el);
		elements.push(Object.assign({ type: type, x: x, y: y }, extra));
	}

	document.querySelectorAll('button, [role="button"], input[type="submit"], input[type="button"]').forEach(el => {
		push(el, 'button', { text: (el.textContent || el.value || '').trim().slice(0, 50) });
	});
	document.querySelectorAll('input:not([type="hidden"]):not([type="submit"]):not([type="button"]):not([type="checkbox"]):not([type="radio"]), textarea').forEach(el => {
		push(el, el.type || 'text', { placeholder: el.placeholder || undefined, name: el.name || undefined });
	});
	document.querySelectorAll('a[href]').forEach(el => {
		const href = el.getAttribute('href');
		if (href.startsWith('javascript:')) return;
		push(el, 'link', { text: (el.textContent || '').trim().slice(0, 50) });
	});
	document.querySelectorAll('select').forEach(el => {
		push(el, 'select', { name: el.name || undefined });
	});
	document.querySelectorAll('input[type="checkbox"], input[type="radio"]').forEach(el => {
		push(el, el.type, { name: el.name || undefined });
	});
	return elements;
}`

// detectSPA checks if the page is a Single Page Application
func detectSPA(ctx context.Context, page *rod.Page) bool {
	res, err := page.Context(ctx).Eval(`() => {
		if (window.__REACT_DEVTOOLS_GLOBAL_HOOK__ || document.querySelector('[data-reactroot]') || document.querySelector('#__next')) return true;
		if (window.__VUE__ || document.querySelector('[data-v-]')) return true;
		if (window.ng || document.querySelector('[ng-version]') || document.querySelector('app-root')) return true;
		if (document.querySelector('[class*="svelte-"]')) return true;
		return false;
	}`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// waitForInteractiveElements polls until interactive elements appear or timeout
func waitForInteractiveElements(ctx context.Context, page *rod.Page, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	checkInterval := 200 * time.Millisecond

	for time.Now().Before(deadline) {
		res, err := page.Context(ctx).Eval(`() => {
			let visible = 0;
			document.querySelectorAll('button, [role="button"], input:not([type="hidden"]), textarea, a[href]').forEach(el => {
				if (el.offsetParent) visible++;
			});
			return visible;
		}`)
		if err == nil && res.Value.Int() > 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(checkInterval):
		}
	}
}
