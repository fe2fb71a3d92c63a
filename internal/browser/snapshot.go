package browser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corepilot/corepilot/internal/model"
)

// domWalkScript mirrors profile_builder_mvp/page_fetcher.py's in-page DOM
// walk: computePath/cleanText/collectAttributes/snapshotNode/collectControls,
// bounded by maxDepth/maxNodes. It additionally stamps every visited element
// with data-dom-id/data-dom-path attributes so later operations (the
// Profile Annotator, interactive highlighting) can re-address the same
// live node the snapshot described — an enhancement the Python original
// does not make, required by this service's own node-identity contract.
const domWalkScript = `
(vars) => {
    const MAX_DEPTH = vars.maxDepth;
    const MAX_NODES = vars.maxNodes;
    let count = 0;
    let domIdCounter = 0;
    const SKIP_TAGS = new Set([
        'script', 'style', 'noscript', 'iframe', 'embed', 'object', 'svg', 'path', 'defs', 'g', 'use',
        'meta', 'link', 'base', 'head'
    ]);

    const computePath = (node) => {
        const segments = [];
        let current = node;
        while (current && current.nodeType === Node.ELEMENT_NODE) {
            const tag = current.tagName.toLowerCase();
            if (current.id) {
                segments.unshift(tag + '#' + current.id);
                break;
            }
            const className = (current.className || '').toString().trim();
            if (className) {
                const first = className.split(/\s+/)[0];
                segments.unshift(tag + '.' + first);
            } else {
                segments.unshift(tag);
            }
            current = current.parentElement;
        }
        return segments.join(' > ');
    };

    const cleanText = (text) => {
        if (!text) return null;
        const trimmed = text.replace(/\s+/g, ' ').trim();
        if (!trimmed) return null;
        return trimmed.slice(0, 120);
    };

    const collectAttributes = (el) => {
        const attrs = {};
        if (el.id) attrs.id = el.id;
        if (el.className) attrs.class = String(el.className).trim();
        if (el.getAttribute('data-test')) attrs.dataTest = el.getAttribute('data-test');
        if (el.getAttribute('aria-label')) attrs.ariaLabel = el.getAttribute('aria-label');
        if (el.getAttribute('role')) attrs.role = el.getAttribute('role');
        if (el.getAttribute('name')) attrs.nameAttr = el.getAttribute('name');
        if (el.getAttribute('value')) attrs.value = el.getAttribute('value');
        if (el.getAttribute('placeholder')) attrs.placeholder = el.getAttribute('placeholder');
        if (el.getAttribute('type')) attrs.type = el.getAttribute('type');
        return attrs;
    };

    const snapshotNode = (node, depth) => {
        if (count >= MAX_NODES) return null;
        if (depth > MAX_DEPTH) return null;
        if (!node || node.nodeType !== Node.ELEMENT_NODE) return null;
        if (SKIP_TAGS.has(node.tagName.toLowerCase())) return null;
        count += 1;

        domIdCounter += 1;
        const domId = 'n' + domIdCounter;
        node.setAttribute('data-dom-id', domId);
        node.setAttribute('data-dom-path', computePath(node));

        const entry = {
            domId: domId,
            tag: node.tagName.toLowerCase(),
            depth: depth,
            attrs: collectAttributes(node),
            path: computePath(node),
        };

        const text = cleanText(node.innerText ? node.innerText : '');
        if (text) entry.text = text;

        const childEntries = [];
        for (const child of node.children) {
            if (count >= MAX_NODES) break;
            const childSnapshot = snapshotNode(child, depth + 1);
            if (childSnapshot) childEntries.push(childSnapshot);
        }
        if (childEntries.length) entry.children = childEntries;
        return entry;
    };

    const collectControls = () => {
        const elements = document.querySelectorAll('input, textarea, select, button');
        return Array.from(elements).map((el) => ({
            tag: el.tagName.toLowerCase(),
            id: el.id || null,
            className: (el.className || '').toString().trim() || null,
            role: el.getAttribute('role') || null,
            nameAttr: el.getAttribute('name') || null,
            type: el.getAttribute('type') || null,
            ariaLabel: el.getAttribute('aria-label') || null,
            dataTest: el.getAttribute('data-test') || null,
            placeholder: el.getAttribute('placeholder') || null,
            path: computePath(el),
        }));
    };

    return {
        tree: snapshotNode(document.body, 0) || {},
        controls: collectControls(),
    };
}
`

// a11yWalkScript produces a best-effort accessibility tree without relying
// on Playwright's own (deprecated) accessibility snapshot API: it infers an
// ARIA role from the explicit role attribute or tag semantics, the same
// heuristic profile_builder_mvp leaves to the LLM annotator downstream.
const a11yWalkScript = `
(vars) => {
    const MAX_DEPTH = vars.maxDepth;
    const MAX_NODES = vars.maxNodes;
    let count = 0;

    const TAG_ROLES = {
        a: 'link', button: 'button', input: 'textbox', textarea: 'textbox',
        select: 'combobox', img: 'img', h1: 'heading', h2: 'heading', h3: 'heading',
        h4: 'heading', h5: 'heading', h6: 'heading', nav: 'navigation', form: 'form',
        table: 'table', ul: 'list', ol: 'list', li: 'listitem',
    };

    const inferRole = (el) => {
        const explicit = el.getAttribute('role');
        if (explicit) return explicit;
        const tag = el.tagName.toLowerCase();
        if (tag === 'input') {
            const type = (el.getAttribute('type') || 'text').toLowerCase();
            if (type === 'checkbox') return 'checkbox';
            if (type === 'radio') return 'radio';
            if (type === 'submit' || type === 'button') return 'button';
            return 'textbox';
        }
        return TAG_ROLES[tag] || null;
    };

    const accessibleName = (el) => {
        return el.getAttribute('aria-label')
            || el.getAttribute('alt')
            || (el.innerText ? el.innerText.replace(/\s+/g, ' ').trim().slice(0, 80) : '')
            || '';
    };

    const walk = (node, depth) => {
        if (count >= MAX_NODES || depth > MAX_DEPTH) return null;
        if (!node || node.nodeType !== Node.ELEMENT_NODE) return null;
        const tag = node.tagName.toLowerCase();
        if (tag === 'script' || tag === 'style' || tag === 'noscript') return null;

        const role = inferRole(node);
        const children = [];
        for (const child of node.children) {
            if (count >= MAX_NODES) break;
            const c = walk(child, depth + 1);
            if (c) children.push(c);
        }

        if (!role && children.length === 0) return null;
        count += 1;

        const entry = { role: role || 'generic' };
        const name = accessibleName(node);
        if (name) entry.name = name;
        if (role === 'textbox' && node.value) entry.value = node.value;
        if (children.length) entry.children = children;
        return entry;
    };

    return walk(document.body, 0) || { role: 'generic' };
}
`

type rawDomNode struct {
	DomID    string            `json:"domId"`
	Tag      string            `json:"tag"`
	Depth    int               `json:"depth"`
	Attrs    map[string]string `json:"attrs"`
	Path     string            `json:"path"`
	Text     string            `json:"text"`
	Children []rawDomNode      `json:"children"`
}

func (n rawDomNode) toModel() *model.DomNode {
	out := &model.DomNode{
		DomID: n.DomID,
		Tag:   n.Tag,
		Depth: n.Depth,
		Attrs: n.Attrs,
		Path:  n.Path,
		Text:  n.Text,
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, c.toModel())
	}
	return out
}

type rawControl struct {
	Tag         string `json:"tag"`
	ID          string `json:"id"`
	ClassName   string `json:"className"`
	Role        string `json:"role"`
	NameAttr    string `json:"nameAttr"`
	Type        string `json:"type"`
	AriaLabel   string `json:"ariaLabel"`
	DataTest    string `json:"dataTest"`
	Placeholder string `json:"placeholder"`
	Path        string `json:"path"`
}

func (c rawControl) toModel() model.Control {
	return model.Control{
		Tag: c.Tag, ID: c.ID, Class: c.ClassName, Role: c.Role, Name: c.NameAttr,
		Type: c.Type, AriaLabel: c.AriaLabel, DataTest: c.DataTest,
		Placeholder: c.Placeholder, Path: c.Path,
	}
}

type rawDomResult struct {
	Tree     rawDomNode   `json:"tree"`
	Controls []rawControl `json:"controls"`
}

type rawA11yNode struct {
	Role     string        `json:"role"`
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Children []rawA11yNode `json:"children"`
}

func (n rawA11yNode) toModel() *model.A11yNode {
	out := &model.A11yNode{Role: n.Role, Name: n.Name, Value: n.Value}
	for _, c := range n.Children {
		out.Children = append(out.Children, c.toModel())
	}
	return out
}

// countNodes and maxDepthOf mirror page_fetcher.py's _count_nodes/_max_depth,
// recomputed on the Go side of the already-bounded tree for the stats block.
func countNodes(n *model.DomNode) int {
	if n == nil {
		return 0
	}
	count := 1
	for _, c := range n.Children {
		count += countNodes(c)
	}
	return count
}

func maxDepthOf(n *model.DomNode) int {
	if n == nil {
		return 0
	}
	depth := n.Depth
	for _, c := range n.Children {
		if d := maxDepthOf(c); d > depth {
			depth = d
		}
	}
	return depth
}

// Capture builds a Snapshot of the page's current DOM, controls and
// accessibility tree, bounded by maxDepth/maxNodes.
func (p *Page) Capture(maxDepth, maxNodes int) (*model.Snapshot, error) {
	if p.closed {
		return nil, fmt.Errorf("page is closed")
	}
	if maxDepth <= 0 {
		maxDepth = 8
	}
	if maxNodes <= 0 {
		maxNodes = 1000
	}

	title, _ := p.pwPage.Title()
	html, err := p.pwPage.Content()
	if err != nil {
		return nil, fmt.Errorf("get content failed: %w", err)
	}

	domResultRaw, err := p.pwPage.Evaluate(domWalkScript, map[string]any{
		"maxDepth": maxDepth,
		"maxNodes": maxNodes,
	})
	if err != nil {
		return nil, fmt.Errorf("dom walk failed: %w", err)
	}
	var domResult rawDomResult
	if err := reencode(domResultRaw, &domResult); err != nil {
		return nil, fmt.Errorf("decode dom walk result: %w", err)
	}

	a11yRaw, err := p.pwPage.Evaluate(a11yWalkScript, map[string]any{
		"maxDepth": maxDepth,
		"maxNodes": maxNodes,
	})
	if err != nil {
		return nil, fmt.Errorf("accessibility walk failed: %w", err)
	}
	var a11y rawA11yNode
	if err := reencode(a11yRaw, &a11y); err != nil {
		return nil, fmt.Errorf("decode accessibility walk result: %w", err)
	}

	domTree := domResult.Tree.toModel()
	controls := make([]model.Control, 0, len(domResult.Controls))
	for _, c := range domResult.Controls {
		controls = append(controls, c.toModel())
	}

	return &model.Snapshot{
		SnapshotID: fmt.Sprintf("snap-%s", uuid.New().String()[:12]),
		URL:        p.pwPage.URL(),
		Title:      title,
		CreatedAt:  time.Now().UTC(),
		DomTree:    domTree,
		Controls:   controls,
		A11yTree:   a11y.toModel(),
		HTML:       html,
		Stats: model.SnapshotStats{
			NodeCount: countNodes(domTree),
			MaxDepth:  maxDepthOf(domTree),
		},
	}, nil
}

// reencode round-trips a page.Evaluate result (a map[string]any tree as
// decoded by the Playwright driver) through JSON into a typed struct.
func reencode(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// GetSource returns the full page HTML source.
func (p *Page) GetSource() (string, error) {
	if p.closed {
		return "", fmt.Errorf("page is closed")
	}
	return p.pwPage.Content()
}

// ConsoleResult holds console messages and page errors returned by GetConsoleMessages.
type ConsoleResult struct {
	Messages []ConsoleMessage `json:"messages,omitempty"`
	Errors   []PageError      `json:"errors,omitempty"`
}

// GetConsoleMessages returns captured console messages and page errors.
// If level is non-empty, only messages matching that level are returned.
// If clear is true, the captured messages and errors are cleared after reading.
func (p *Page) GetConsoleMessages(level string, clear bool) (*ConsoleResult, error) {
	if p.closed {
		return nil, fmt.Errorf("page is closed")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var messages []ConsoleMessage
	for _, msg := range p.state.ConsoleMessages {
		if level == "" || strings.EqualFold(msg.Type, level) {
			messages = append(messages, msg)
		}
	}
	errs := make([]PageError, len(p.state.Errors))
	copy(errs, p.state.Errors)

	if clear {
		p.state.ConsoleMessages = nil
		p.state.Errors = nil
	}

	return &ConsoleResult{Messages: messages, Errors: errs}, nil
}
